package circuitbreaker

import "time"

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:     5,
		SuccessThreshold:     2,
		Timeout:              60 * time.Second,
		MaxTimeout:           300 * time.Second,
		RequestTimeout:       30 * time.Second,
		ExponentialBackoff:   true,
		FailureRateThreshold: 0.5,
		MinRequestThreshold:  10,
		TimeWindow:           60 * time.Second,
	}
}

// STTConfig suits the transcription service. Jobs run for minutes, so the
// caller's deadline is used instead of a request timeout.
func STTConfig() *Config {
	return &Config{
		FailureThreshold:     3,
		SuccessThreshold:     1,
		Timeout:              30 * time.Second,
		MaxTimeout:           180 * time.Second,
		ExponentialBackoff:   true,
		FailureRateThreshold: 0.6,
		MinRequestThreshold:  5,
		TimeWindow:           5 * time.Minute,
	}
}

// PlannerConfig suits the text-generation service
func PlannerConfig() *Config {
	return &Config{
		FailureThreshold:     4,
		SuccessThreshold:     1,
		Timeout:              20 * time.Second,
		MaxTimeout:           120 * time.Second,
		RequestTimeout:       90 * time.Second,
		ExponentialBackoff:   true,
		FailureRateThreshold: 0.5,
		MinRequestThreshold:  8,
		TimeWindow:           2 * time.Minute,
	}
}
