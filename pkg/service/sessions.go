package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pss-server/pkg/auth"
	"pss-server/pkg/correlation"
	"pss-server/pkg/database"
	"pss-server/pkg/diarization"
	"pss-server/pkg/errors"
	"pss-server/pkg/messaging"
	"pss-server/pkg/metrics"
	"pss-server/pkg/storage"
	"pss-server/pkg/stt"
)

// MaxSpeakersExpected bounds the diarization hint accepted from clients
const MaxSpeakersExpected = 10

// SessionStore persists peer sessions
type SessionStore interface {
	CreateSession(ctx context.Context, session *database.PeerSession) error
	GetSession(ctx context.Context, orgID, id string) (*database.PeerSession, error)
	ListSessions(ctx context.Context, orgID string, opts database.ListOptions) ([]*database.PeerSession, error)
	AttachRecording(ctx context.Context, orgID, id, recordingKey string) error
	SaveTranscription(ctx context.Context, orgID, id string, t database.Transcription) error
	ConfirmSpeakerRoles(ctx context.Context, orgID, id string, roles diarization.RoleMap) error
}

// SessionService handles session recordings and their diarized transcripts
type SessionService struct {
	store       SessionStore
	audio       storage.AudioStore
	transcriber stt.Transcriber
	publisher   messaging.Publisher
	presignTTL  time.Duration
	logger      *logrus.Logger
}

// SessionServiceOptions wires a SessionService. Audio may be nil, in which
// case recordings are uploaded straight to the transcription service and not
// kept.
type SessionServiceOptions struct {
	Store       SessionStore
	Audio       storage.AudioStore
	Transcriber stt.Transcriber
	Publisher   messaging.Publisher
	PresignTTL  time.Duration
	Logger      *logrus.Logger
}

// NewSessionService creates a session service
func NewSessionService(opts SessionServiceOptions) *SessionService {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	if opts.Publisher == nil {
		opts.Publisher = messaging.NoopPublisher{}
	}
	return &SessionService{
		store:       opts.Store,
		audio:       opts.Audio,
		transcriber: opts.Transcriber,
		publisher:   opts.Publisher,
		presignTTL:  opts.PresignTTL,
		logger:      opts.Logger,
	}
}

// NewSession is the client input for creating a session
type NewSession struct {
	Title           string `json:"title"`
	ParticipantName string `json:"participantName"`
}

// Recording is an uploaded session recording
type Recording struct {
	Body             io.Reader
	Filename         string
	ContentType      string
	Size             int64
	SpeakersExpected int
}

// Analysis is the stateless result of diarizing a transcript
type Analysis struct {
	Diarization         diarization.Result  `json:"diarization"`
	FormattedTranscript string              `json:"formattedTranscript"`
	SuggestedRoles      diarization.RoleMap `json:"suggestedRoles"`
}

// LabeledTranscript is a transcript rendered with confirmed speaker roles
type LabeledTranscript struct {
	SessionID   string              `json:"sessionId"`
	Transcript  string              `json:"transcript"`
	Diarization diarization.Result  `json:"diarization"`
	Roles       diarization.RoleMap `json:"roles"`
}

// Analyze aggregates utterances into statistics, a formatted transcript and
// a suggested role mapping. fallback is returned as the transcript when
// there are no utterances.
func Analyze(utterances []diarization.Utterance, audioDurationSeconds float64, fallback string) Analysis {
	result := diarization.AggregateSpeakerStats(utterances, audioDurationSeconds)
	return Analysis{
		Diarization:         result,
		FormattedTranscript: diarization.FormatTranscript(utterances, fallback),
		SuggestedRoles:      diarization.SuggestRoles(result),
	}
}

// CreateSession creates an empty session for the caller's tenant
func (s *SessionService) CreateSession(ctx context.Context, user *auth.UserInfo, input NewSession) (*database.PeerSession, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.NewInvalidInput("title is required")
	}

	session := &database.PeerSession{
		OrgID:           user.OrgID,
		CreatedBy:       user.UserID,
		Title:           title,
		ParticipantName: strings.TrimSpace(input.ParticipantName),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns one session of the caller's tenant
func (s *SessionService) GetSession(ctx context.Context, user *auth.UserInfo, id string) (*database.PeerSession, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, user.OrgID, id)
}

// ListSessions returns the caller's tenant sessions, newest first
func (s *SessionService) ListSessions(ctx context.Context, user *auth.UserInfo, opts database.ListOptions) ([]*database.PeerSession, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, user.OrgID, opts)
}

// Transcribe stores a recording, has it transcribed with speaker diarization
// and persists the aggregated result together with a suggested role mapping.
// The mapping must be confirmed with ConfirmRoles before the transcript is
// used downstream.
func (s *SessionService) Transcribe(ctx context.Context, user *auth.UserInfo, sessionID string, rec Recording) (*database.PeerSession, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if rec.Body == nil {
		return nil, errors.NewInvalidInput("audio is required")
	}
	if rec.SpeakersExpected < 0 || rec.SpeakersExpected > MaxSpeakersExpected {
		return nil, errors.NewInvalidInput(fmt.Sprintf("speakers_expected must be between 0 and %d", MaxSpeakersExpected))
	}
	if s.transcriber == nil {
		return nil, errors.Wrap(errors.ErrUnavailable, "transcription is disabled")
	}

	existing, err := s.store.GetSession(ctx, user.OrgID, sessionID)
	if err != nil {
		return nil, err
	}

	log := correlation.LoggerFromContext(ctx, s.logger).WithField("session_id", sessionID)

	recordingKey, audioURL, err := s.stageAudio(ctx, log, user.OrgID, sessionID, existing.RecordingKey, rec)
	if err != nil {
		return nil, err
	}

	transcript, err := s.transcriber.Transcribe(ctx, stt.Request{
		AudioURL:         audioURL,
		SpeakersExpected: rec.SpeakersExpected,
	})
	if err != nil {
		log.WithError(err).Warn("Transcription failed")
		return nil, err
	}

	analysis := Analyze(transcript.Utterances, transcript.AudioDuration, transcript.Text)
	metrics.RecordDiarizedSpeakers(analysis.Diarization.SpeakerCount)

	err = s.store.SaveTranscription(ctx, user.OrgID, sessionID, database.Transcription{
		RecordingKey:        recordingKey,
		AudioDuration:       transcript.AudioDuration,
		Transcript:          transcript.Text,
		FormattedTranscript: analysis.FormattedTranscript,
		Utterances:          transcript.Utterances,
		Diarization:         analysis.Diarization,
		SuggestedRoles:      analysis.SuggestedRoles,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"transcript_id": transcript.ID,
		"speakers":      analysis.Diarization.SpeakerCount,
		"utterances":    len(transcript.Utterances),
		"duration_s":    transcript.AudioDuration,
	}).Info("Session transcribed")

	publish(ctx, s.logger, s.publisher, messaging.NewEvent(ctx, messaging.EventTranscriptDiarized, user.OrgID, sessionID, user.UserID, map[string]interface{}{
		"speakerCount":   analysis.Diarization.SpeakerCount,
		"totalDuration":  analysis.Diarization.TotalDuration,
		"suggestedRoles": analysis.SuggestedRoles,
	}))

	return s.store.GetSession(ctx, user.OrgID, sessionID)
}

// stageAudio makes the recording reachable by the transcription service.
// With object storage the recording is kept and a presigned URL is handed
// out; without it the audio is uploaded to the transcription service only.
// Once the session points at the new object the previous one is deleted, so
// a bucket holds at most one recording per session.
func (s *SessionService) stageAudio(ctx context.Context, log *logrus.Entry, orgID, sessionID, previousKey string, rec Recording) (string, string, error) {
	if s.audio == nil {
		url, err := s.transcriber.Upload(ctx, rec.Body)
		return "", url, err
	}

	key := storage.RecordingKey(orgID, sessionID, rec.Filename)
	if err := s.audio.Put(ctx, key, rec.ContentType, rec.Body, rec.Size); err != nil {
		return "", "", err
	}

	url, err := s.audio.PresignGet(ctx, key, s.presignTTL)
	if err != nil {
		s.deleteRecording(ctx, log, key)
		return "", "", err
	}
	if err := s.store.AttachRecording(ctx, orgID, sessionID, key); err != nil {
		s.deleteRecording(ctx, log, key)
		return "", "", err
	}

	if previousKey != "" && previousKey != key {
		s.deleteRecording(ctx, log, previousKey)
	}
	return key, url, nil
}

// deleteRecording removes an unreferenced object. Failures are only logged;
// the request outcome does not depend on them.
func (s *SessionService) deleteRecording(ctx context.Context, log *logrus.Entry, key string) {
	if err := s.audio.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.WithError(err).WithField("recording_key", key).Warn("Failed to delete unreferenced recording")
	}
}

// ConfirmRoles applies the caller's overrides to the suggested role mapping
// and records the result as confirmed. An empty override set accepts the
// suggestion as is.
func (s *SessionService) ConfirmRoles(ctx context.Context, user *auth.UserInfo, sessionID string, overrides diarization.RoleMap) (*database.PeerSession, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, user.OrgID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Diarization == nil {
		return nil, errors.Wrap(errors.ErrFailedPrecondition, "session has not been transcribed").
			WithField("session_id", sessionID).WithCode("NOT_TRANSCRIBED")
	}

	confirmed, err := diarization.ApplyRoleOverrides(session.SuggestedRoles, overrides)
	if err != nil {
		return nil, errors.NewInvalidInput(err.Error(), map[string]interface{}{"session_id": sessionID})
	}

	if err := s.store.ConfirmSpeakerRoles(ctx, user.OrgID, sessionID, confirmed); err != nil {
		return nil, err
	}

	correlation.LoggerFromContext(ctx, s.logger).WithFields(logrus.Fields{
		"session_id":  sessionID,
		"specialists": confirmed.Specialists(),
		"overrides":   len(overrides),
	}).Info("Speaker roles confirmed")

	publish(ctx, s.logger, s.publisher, messaging.NewEvent(ctx, messaging.EventSpeakersConfirmed, user.OrgID, sessionID, user.UserID, map[string]interface{}{
		"roles": confirmed,
	}))

	return s.store.GetSession(ctx, user.OrgID, sessionID)
}

// LabeledTranscript renders the transcript with confirmed role labels. It
// fails with ErrRolesNotConfirmed until ConfirmRoles has been called.
func (s *SessionService) LabeledTranscript(ctx context.Context, user *auth.UserInfo, sessionID string) (*LabeledTranscript, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, user.OrgID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.RolesConfirmed || session.Diarization == nil {
		return nil, errors.NewRolesNotConfirmed(sessionID)
	}

	return &LabeledTranscript{
		SessionID:   session.ID,
		Transcript:  diarization.FormatLabeledTranscript(session.Utterances, session.ConfirmedRoles, session.Transcript),
		Diarization: diarization.LabelSpeakers(*session.Diarization, session.ConfirmedRoles),
		Roles:       session.ConfirmedRoles,
	}, nil
}
