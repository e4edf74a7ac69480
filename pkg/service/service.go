// Package service orchestrates API requests: it checks the caller's tenant,
// calls the external transcription, planning and storage services, runs the
// diarization and milestone transforms and persists their results.
package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"pss-server/pkg/auth"
	"pss-server/pkg/correlation"
	"pss-server/pkg/errors"
	"pss-server/pkg/messaging"
)

func requireUser(user *auth.UserInfo) error {
	if user == nil || user.UserID == "" {
		return errors.NewUnauthenticated("authentication required")
	}
	if user.OrgID == "" {
		return errors.NewPermissionDenied("caller is not scoped to an organization")
	}
	return nil
}

// publish delivers an event on a best-effort basis. Failures are logged and
// never fail the request that produced the event.
func publish(ctx context.Context, logger *logrus.Logger, publisher messaging.Publisher, event messaging.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		correlation.LoggerFromContext(ctx, logger).WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"subject_id": event.SubjectID,
		}).Warn("Failed to publish event")
	}
}
