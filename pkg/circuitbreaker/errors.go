package circuitbreaker

import (
	"pss-server/pkg/errors"
)

// NewCircuitBreakerOpenError is returned without calling the upstream while
// the circuit is open. It wraps errors.ErrUnavailable so callers answer 503.
func NewCircuitBreakerOpenError(name string) *errors.Error {
	return errors.Wrap(errors.ErrUnavailable, name+" is temporarily unavailable").
		WithCode("circuit_open").
		WithField("upstream", name)
}

// IsCircuitBreakerOpenError checks if an error was produced by an open circuit
func IsCircuitBreakerOpenError(err error) bool {
	return errors.GetErrorCode(err) == "circuit_open"
}
