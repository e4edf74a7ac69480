// Package messaging publishes domain events for downstream consumers such as
// note generation and analytics.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pss-server/pkg/correlation"
)

// Event types. They double as AMQP routing keys.
const (
	EventTranscriptDiarized = "transcript.diarized"
	EventSpeakersConfirmed  = "speakers.confirmed"
	EventGoalProgress       = "goal.progress"
)

// Event is a domain event scoped to one tenant
type Event struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	OrgID         string      `json:"org_id"`
	SubjectID     string      `json:"subject_id"`
	ActorID       string      `json:"actor_id,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
	Data          interface{} `json:"data,omitempty"`
}

// NewEvent builds an event, taking the correlation ID from ctx
func NewEvent(ctx context.Context, eventType, orgID, subjectID, actorID string, data interface{}) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrgID:         orgID,
		SubjectID:     subjectID,
		ActorID:       actorID,
		CorrelationID: correlation.FromContext(ctx).String(),
		OccurredAt:    time.Now().UTC(),
		Data:          data,
	}
}

// Publisher delivers domain events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

// Publish implements Publisher
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Fanout delivers each event to every publisher and joins their errors
type Fanout []Publisher

// Publish implements Publisher
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
