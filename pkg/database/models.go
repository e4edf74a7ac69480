package database

import (
	"time"

	"pss-server/pkg/diarization"
	"pss-server/pkg/milestones"
)

// Session lifecycle states
const (
	SessionStatusCreated     = "created"
	SessionStatusUploaded    = "uploaded"
	SessionStatusTranscribed = "transcribed"
	SessionStatusConfirmed   = "confirmed"
)

// PeerSession is one recorded peer support session of a tenant
type PeerSession struct {
	ID                  string                  `json:"id"`
	OrgID               string                  `json:"orgId"`
	CreatedBy           string                  `json:"createdBy"`
	Title               string                  `json:"title"`
	ParticipantName     string                  `json:"participantName,omitempty"`
	Status              string                  `json:"status"`
	RecordingKey        string                  `json:"recordingKey,omitempty"`
	AudioDuration       float64                 `json:"audioDuration"`
	Transcript          string                  `json:"transcript,omitempty"`
	FormattedTranscript string                  `json:"formattedTranscript,omitempty"`
	Utterances          []diarization.Utterance `json:"utterances,omitempty"`
	Diarization         *diarization.Result     `json:"diarization,omitempty"`
	SuggestedRoles      diarization.RoleMap     `json:"suggestedRoles,omitempty"`
	ConfirmedRoles      diarization.RoleMap     `json:"confirmedRoles,omitempty"`
	RolesConfirmed      bool                    `json:"rolesConfirmed"`
	CreatedAt           time.Time               `json:"createdAt"`
	UpdatedAt           time.Time               `json:"updatedAt"`
}

// Transcription is the result of diarizing a session recording
type Transcription struct {
	RecordingKey        string
	AudioDuration       float64
	Transcript          string
	FormattedTranscript string
	Utterances          []diarization.Utterance
	Diarization         diarization.Result
	SuggestedRoles      diarization.RoleMap
}

// RecoveryGoal is a participant goal with its phased plan and milestones
type RecoveryGoal struct {
	ID          string                 `json:"id"`
	OrgID       string                 `json:"orgId"`
	CreatedBy   string                 `json:"createdBy"`
	SessionID   string                 `json:"sessionId,omitempty"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Plan        *milestones.PhasedPlan `json:"plan,omitempty"`
	Milestones  []milestones.Milestone `json:"milestones"`
	Progress    int                    `json:"progress"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// ListOptions pages list queries. A zero Limit means DefaultListLimit.
type ListOptions struct {
	Limit  int
	Offset int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func (o ListOptions) normalized() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
