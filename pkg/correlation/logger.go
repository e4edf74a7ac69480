package correlation

import (
	"context"

	"github.com/sirupsen/logrus"

	"pss-server/pkg/auth"
)

// LoggerFromContext returns an entry carrying the request's correlation and
// tenant fields
func LoggerFromContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(ContextFields(ctx))
}

// ContextFields extracts the log fields of ctx. The organization and user are
// only present once the request is authenticated.
func ContextFields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if ctx == nil {
		return fields
	}

	if id := FromContext(ctx); !id.IsEmpty() {
		fields["correlation_id"] = id.String()
	}
	if ip := ClientIPFromContext(ctx); ip != "" {
		fields["client_ip"] = ip
	}
	if user, ok := auth.UserFromContext(ctx); ok {
		fields["org_id"] = user.OrgID
		fields["user_id"] = user.UserID
	}

	return fields
}
