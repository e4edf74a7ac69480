// Package auth validates bearer tokens issued by the external identity
// provider. Users, passwords and token issuance live with the provider; this
// service only verifies signatures and extracts the caller's tenant.
package auth

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"pss-server/pkg/config"
	"pss-server/pkg/errors"
)

// UserInfo represents the authenticated caller
type UserInfo struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Validator verifies provider-issued JWTs
type Validator struct {
	hmacSecret []byte
	publicKey  *rsa.PublicKey
	orgClaim   string
	parser     *jwt.Parser
	logger     *logrus.Logger
}

// NewValidator creates a validator from the auth configuration. An RSA public
// key file takes precedence over a shared secret.
func NewValidator(cfg *config.AuthConfig, logger *logrus.Logger) (*Validator, error) {
	v := &Validator{
		orgClaim: cfg.OrgClaim,
		logger:   logger,
	}
	if v.orgClaim == "" {
		v.orgClaim = "org_id"
	}

	var methods []string
	switch {
	case cfg.JWTPublicKeyFile != "":
		pemBytes, err := os.ReadFile(cfg.JWTPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
		}
		v.publicKey = key
		methods = []string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg()}
	case cfg.JWTSecret != "":
		v.hmacSecret = []byte(cfg.JWTSecret)
		methods = []string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}
	default:
		return nil, fmt.Errorf("no JWT verification key configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	v.parser = jwt.NewParser(opts...)

	logger.WithFields(logrus.Fields{
		"algorithms": methods,
		"issuer":     cfg.Issuer,
		"audience":   cfg.Audience,
		"org_claim":  v.orgClaim,
	}).Info("JWT validator initialized")

	return v, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.publicKey != nil {
		return v.publicKey, nil
	}
	return v.hmacSecret, nil
}

// Validate parses and verifies a token. Invalid or expired tokens are
// ErrUnauthenticated; a valid token without a tenant is ErrPermissionDenied.
func (v *Validator) Validate(tokenString string) (*UserInfo, error) {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(tokenString, claims, v.keyFunc); err != nil {
		return nil, errors.Wrap(errors.ErrUnauthenticated, "invalid bearer token").
			WithField("cause", err.Error()).WithCode("INVALID_TOKEN")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, errors.NewUnauthenticated("token has no subject")
	}

	user := &UserInfo{
		UserID: subject,
		OrgID:  stringClaim(claims, v.orgClaim),
		Email:  stringClaim(claims, "email"),
		Role:   stringClaim(claims, "role"),
	}
	if user.OrgID == "" {
		return nil, errors.NewPermissionDenied("token is not scoped to an organization")
	}
	return user, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if value, ok := claims[name].(string); ok {
		return value
	}
	return ""
}
