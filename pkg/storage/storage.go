// Package storage keeps session recordings in S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pss-server/pkg/config"
	"pss-server/pkg/errors"
	"pss-server/pkg/metrics"
)

// AudioStore stores recordings and hands out time-limited download URLs
type AudioStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// RecordingKey builds the object key for a session recording. Keys are
// namespaced by tenant and never reuse the client supplied file name.
func RecordingKey(orgID, sessionID, filename string) string {
	return path.Join("orgs", orgID, "sessions", sessionID, uuid.NewString()+safeExt(filename))
}

func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// S3Store is an AudioStore backed by S3 or an S3-compatible service
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  *logrus.Logger
}

// NewS3Store creates a store using the default AWS credential chain
func NewS3Store(ctx context.Context, logger *logrus.Logger, cfg *config.StorageConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.WithFields(logrus.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.UsePathStyle,
	}).Info("Object storage initialized")

	return NewS3StoreWithClient(logger, client, cfg.Bucket), nil
}

// NewS3StoreWithClient creates a store around an existing S3 client
func NewS3StoreWithClient(logger *logrus.Logger, client *s3.Client, bucket string) *S3Store {
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		logger:  logger,
	}
}

// Put uploads body under key. A size of zero or less leaves the content
// length to the SDK.
func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	_, err := s.client.PutObject(ctx, input)
	metrics.RecordStorageOperation("put", err)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to upload recording")
		return errors.Wrap(errors.ErrStorageFailure, "failed to upload recording").WithField("key", key)
	}

	s.logger.WithFields(logrus.Fields{
		"key":  key,
		"size": size,
	}).Debug("Recording uploaded")
	return nil
}

// PresignGet returns a GET URL for key that expires after ttl
func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	metrics.RecordStorageOperation("presign", err)
	if err != nil {
		return "", errors.Wrap(errors.ErrStorageFailure, "failed to presign recording URL").WithField("key", key)
	}
	return req.URL, nil
}

// Delete removes the object stored under key
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	metrics.RecordStorageOperation("delete", err)
	if err != nil {
		return errors.Wrap(errors.ErrStorageFailure, "failed to delete recording").WithField("key", key)
	}
	return nil
}
