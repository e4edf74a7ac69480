package http

import (
	"net/http"
	"strings"

	"pss-server/pkg/auth"
	"pss-server/pkg/config"
	"pss-server/pkg/correlation"
	"pss-server/pkg/errors"

	"github.com/sirupsen/logrus"
)

// AnonymousUser is the caller when authentication is disabled. Everything it
// creates belongs to the "default" organization.
var AnonymousUser = auth.UserInfo{UserID: "anonymous", OrgID: "default", Role: "specialist"}

// TokenValidator turns a bearer token into the calling user
type TokenValidator interface {
	Validate(token string) (*auth.UserInfo, error)
}

// AuthMiddleware authenticates API requests with provider-issued bearer
// tokens and places the caller in the request context
type AuthMiddleware struct {
	validator TokenValidator
	logger    *logrus.Logger
	config    *config.AuthConfig
}

// NewAuthMiddleware creates a new authentication middleware. validator may be
// nil only when authentication is disabled.
func NewAuthMiddleware(validator TokenValidator, cfg *config.AuthConfig, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
		config:    cfg,
	}
}

// Middleware returns the authentication middleware handler
func (am *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !am.config.Enabled {
			anonymous := AnonymousUser
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), &anonymous)))
			return
		}

		if am.isPathExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		user, err := am.authenticate(r)
		if err != nil {
			correlation.LoggerFromContext(r.Context(), am.logger).WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"method": r.Method,
				"error":  err.Error(),
			}).Warning("Authentication failed")

			if errors.Is(err, errors.ErrUnauthenticated) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pss"`)
			}
			errors.WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// authenticate reads the bearer token from the Authorization header, or from
// the token query parameter on websocket upgrades where browsers cannot set
// headers.
func (am *AuthMiddleware) authenticate(r *http.Request) (*auth.UserInfo, error) {
	if am.validator == nil {
		return nil, errors.NewUnauthenticated("no token validator configured")
	}

	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok && isWebSocketRequest(r) {
		token = r.URL.Query().Get("token")
		ok = token != ""
	}
	if !ok {
		return nil, errors.NewUnauthenticated("bearer token required")
	}

	return am.validator.Validate(token)
}

// isPathExempt checks if a path is exempt from authentication
func (am *AuthMiddleware) isPathExempt(path string) bool {
	for _, exempt := range am.config.ExemptPaths {
		if path == exempt || strings.HasPrefix(path, strings.TrimSuffix(exempt, "/")+"/") {
			return true
		}
	}
	return false
}

func isWebSocketRequest(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}

	for _, token := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return true
		}
	}
	return false
}
