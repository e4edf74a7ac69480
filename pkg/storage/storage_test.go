package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pss-server/pkg/errors"
)

func newTestStore(endpoint string) *S3Store {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDTEST", SecretAccessKey: "secret"}, nil
		}),
	})

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewS3StoreWithClient(logger, client, "recordings")
}

func TestRecordingKey(t *testing.T) {
	key := RecordingKey("org-1", "sess-9", "Session Audio.MP3")
	assert.True(t, strings.HasPrefix(key, "orgs/org-1/sessions/sess-9/"), key)
	assert.True(t, strings.HasSuffix(key, ".mp3"), key)
	assert.NotContains(t, key, "Session Audio")

	assert.NotEqual(t, key, RecordingKey("org-1", "sess-9", "Session Audio.MP3"), "keys must be unique")
}

func TestSafeExt(t *testing.T) {
	testCases := map[string]string{
		"a.wav":        ".wav",
		"a.M4A":        ".m4a",
		"noext":        "",
		"a.":           "",
		"a.toolongext": "",
		"a.mp3;rm":     "",
		"../../x.ogg":  ".ogg",
	}
	for input, expected := range testCases {
		assert.Equal(t, expected, safeExt(input), input)
	}
}

func TestS3StorePutAndDelete(t *testing.T) {
	var (
		mu      sync.Mutex
		objects = map[string]string{}
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = string(body)
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(objects, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	store := newTestStore(server.URL)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "orgs/o/sessions/s/a.wav", "audio/wav", strings.NewReader("RIFF"), 4))

	mu.Lock()
	_, stored := objects["/recordings/orgs/o/sessions/s/a.wav"]
	mu.Unlock()
	assert.True(t, stored)

	require.NoError(t, store.Delete(ctx, "orgs/o/sessions/s/a.wav"))
	mu.Lock()
	assert.Empty(t, objects)
	mu.Unlock()
}

func TestS3StorePutFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<?xml version="1.0"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	}))
	defer server.Close()

	err := newTestStore(server.URL).Put(context.Background(), "k", "audio/wav", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageFailure))
}

func TestS3StorePresignGet(t *testing.T) {
	store := newTestStore("https://s3.example.org")

	raw, err := store.PresignGet(context.Background(), "orgs/o/sessions/s/a.wav", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "s3.example.org", u.Host)
	assert.Equal(t, "/recordings/orgs/o/sessions/s/a.wav", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
