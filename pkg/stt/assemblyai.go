package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pss-server/pkg/config"
	"pss-server/pkg/diarization"
	"pss-server/pkg/errors"
	"pss-server/pkg/metrics"
)

const defaultBaseURL = "https://api.assemblyai.com"

// Job states reported by the transcription service
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Transcriber turns recorded audio into a diarized transcript
type Transcriber interface {
	Upload(ctx context.Context, audio io.Reader) (string, error)
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}

// Request describes one transcription job
type Request struct {
	// AudioURL must be reachable by the transcription service, e.g. a
	// presigned object URL or the result of Upload.
	AudioURL string
	// SpeakersExpected is a hint for the diarizer; zero lets it decide.
	SpeakersExpected int
}

// Transcript is a completed transcription job
type Transcript struct {
	ID            string
	Text          string
	Utterances    []diarization.Utterance
	AudioDuration float64
}

// Client talks to an AssemblyAI-compatible batch transcription API
type Client struct {
	logger     *logrus.Logger
	config     *config.STTConfig
	httpClient *http.Client
}

// NewClient creates a transcription client
func NewClient(logger *logrus.Logger, cfg *config.STTConfig) *Client {
	return &Client{
		logger: logger,
		config: cfg,
		httpClient: &http.Client{
			// Individual calls are short; the overall job deadline is config.Timeout.
			Timeout: 60 * time.Second,
		},
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return "assemblyai"
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL         string `json:"audio_url"`
	SpeakerLabels    bool   `json:"speaker_labels"`
	SpeakersExpected int    `json:"speakers_expected,omitempty"`
	LanguageCode     string `json:"language_code,omitempty"`
}

type transcriptResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	Error         string  `json:"error"`
	AudioDuration float64 `json:"audio_duration"`
	Utterances    []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
	} `json:"utterances"`
}

// Upload sends raw audio to the service and returns a URL usable in a Request
func (c *Client) Upload(ctx context.Context, audio io.Reader) (string, error) {
	if err := c.checkEnabled(); err != nil {
		return "", err
	}

	var result uploadResponse
	if err := c.do(ctx, http.MethodPost, "/v2/upload", "application/octet-stream", audio, &result); err != nil {
		metrics.RecordSTTRequest("upload", "error")
		return "", err
	}
	metrics.RecordSTTRequest("upload", "success")

	if result.UploadURL == "" {
		return "", errors.Wrap(errors.ErrTranscriptionFailed, "upload response did not include an upload_url")
	}
	return result.UploadURL, nil
}

// Transcribe submits a diarization job and polls until it completes, fails,
// ctx is done or the configured timeout elapses.
func (c *Client) Transcribe(ctx context.Context, req Request) (*Transcript, error) {
	if err := c.checkEnabled(); err != nil {
		return nil, err
	}
	if req.AudioURL == "" {
		return nil, errors.NewInvalidInput("audio URL is required")
	}
	if req.SpeakersExpected < 0 {
		return nil, errors.NewInvalidInput("speakers expected cannot be negative")
	}

	done := metrics.ObserveSTTLatency("transcribe")
	defer done()

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(transcriptRequest{
		AudioURL:         req.AudioURL,
		SpeakerLabels:    true,
		SpeakersExpected: req.SpeakersExpected,
		LanguageCode:     c.config.LanguageCode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript request: %w", err)
	}

	var job transcriptResponse
	if err := c.do(ctx, http.MethodPost, "/v2/transcript", "application/json", bytes.NewReader(body), &job); err != nil {
		metrics.RecordSTTRequest("transcribe", "error")
		return nil, err
	}

	logger := c.logger.WithFields(logrus.Fields{
		"provider":          c.Name(),
		"job_id":            job.ID,
		"speakers_expected": req.SpeakersExpected,
	})
	logger.Info("Transcription job submitted")

	result, err := c.poll(ctx, &job)
	if err != nil {
		metrics.RecordSTTRequest("transcribe", "error")
		logger.WithError(err).Warn("Transcription job failed")
		return nil, err
	}
	metrics.RecordSTTRequest("transcribe", "success")

	transcript := &Transcript{
		ID:            result.ID,
		Text:          result.Text,
		Utterances:    make([]diarization.Utterance, 0, len(result.Utterances)),
		AudioDuration: result.AudioDuration,
	}
	for _, u := range result.Utterances {
		transcript.Utterances = append(transcript.Utterances, diarization.Utterance{
			Speaker: u.Speaker,
			Text:    u.Text,
			Start:   u.Start,
			End:     u.End,
		})
	}

	logger.WithFields(logrus.Fields{
		"utterances":     len(transcript.Utterances),
		"audio_duration": transcript.AudioDuration,
	}).Info("Transcription completed")

	return transcript, nil
}

func (c *Client) poll(ctx context.Context, job *transcriptResponse) (*transcriptResponse, error) {
	interval := c.config.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		switch job.Status {
		case StatusCompleted:
			return job, nil
		case StatusError:
			return nil, errors.Wrap(errors.ErrTranscriptionFailed, "transcription job failed").
				WithFields(map[string]interface{}{"job_id": job.ID, "reason": job.Error})
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, errors.Wrap(errors.ErrTimeout, "transcription timed out").
					WithField("job_id", job.ID)
			}
			return nil, fmt.Errorf("transcription canceled: %w", ctx.Err())
		case <-ticker.C:
		}

		id := job.ID
		next := &transcriptResponse{}
		if err := c.do(ctx, http.MethodGet, "/v2/transcript/"+id, "", nil, next); err != nil {
			return nil, err
		}
		job = next

		c.logger.WithFields(logrus.Fields{
			"job_id": id,
			"status": job.Status,
		}).Debug("Polled transcription job")
	}
}

// do performs one API call and decodes the JSON reply into out
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	baseURL := strings.TrimRight(c.config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create transcription request: %w", err)
	}
	req.Header.Set("Authorization", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.Wrap(errors.ErrTimeout, "transcription timed out").WithField("path", path)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("transcription request interrupted: %w", ctx.Err())
		}
		return errors.Wrap(errors.ErrTranscriptionFailed, "failed to call transcription API").
			WithField("cause", err.Error())
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read transcription response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Wrap(errors.ErrTranscriptionFailed, fmt.Sprintf("transcription API returned status %d", resp.StatusCode)).
			WithFields(map[string]interface{}{
				"status": resp.StatusCode,
				"body":   strings.TrimSpace(string(bodyBytes)),
			})
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return errors.Wrap(errors.ErrTranscriptionFailed, "failed to decode transcription response").
			WithField("cause", err.Error())
	}
	return nil
}

func (c *Client) checkEnabled() error {
	if c.config == nil || !c.config.Enabled {
		return errors.Wrap(errors.ErrUnavailable, "speech-to-text is disabled")
	}
	return nil
}
