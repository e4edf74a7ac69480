package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pss-server/pkg/errors"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, cfg *Config) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("stt", cfg, logger)
	cb.now = clock.now
	return cb, clock
}

func testConfig() *Config {
	return &Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		MaxTimeout:       30 * time.Second,
		TimeWindow:       time.Minute,
	}
}

var errUpstream = errors.Wrap(errors.ErrTranscriptionFailed, "upstream returned 502")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errors.ErrTranscriptionFailed)
		assert.Equal(t, StateClosed, cb.GetState())
	}
	assert.ErrorIs(t, cb.Execute(ctx, fail), errors.ErrTranscriptionFailed)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.ErrorIs(t, err, errors.ErrUnavailable)
	assert.True(t, IsCircuitBreakerOpenError(err))

	stats := cb.GetStatistics()
	assert.Equal(t, int64(3), stats.FailedRequests)
	assert.Equal(t, int64(1), stats.RejectedRequests)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t, testConfig())
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cfg := testConfig()
	cb, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, fail)
	}
	require.True(t, cb.IsOpen())

	// Three failures double the timeout twice, capped at MaxTimeout.
	clock.advance(29 * time.Second)
	assert.True(t, IsCircuitBreakerOpenError(cb.Execute(ctx, succeed)))

	clock.advance(time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	cfg.ExponentialBackoff = false
	cb, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, fail)
	}
	clock.advance(cfg.Timeout)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errors.ErrTranscriptionFailed)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.True(t, IsCircuitBreakerOpenError(cb.Execute(ctx, succeed)))
}

func TestCircuitBreaker_CallerErrorsDoNotTrip(t *testing.T) {
	cb, _ := newTestBreaker(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(context.Context) error {
			return errors.NewInvalidInput("audio url is required")
		})
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	cb.Execute(cancelled, func(ctx context.Context) error { return ctx.Err() })

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, int64(0), cb.GetStatistics().FailedRequests)
}

func TestCircuitBreaker_FailureRate(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 100
	cfg.FailureRateThreshold = 0.5
	cfg.MinRequestThreshold = 4
	cb, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	cb.Execute(ctx, succeed)
	cb.Execute(ctx, fail)
	cb.Execute(ctx, succeed)
	assert.Equal(t, StateClosed, cb.GetState(), "below the minimum request count")

	cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())

	// Old results fall out of the window.
	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	clock.advance(2 * cfg.TimeWindow)
	cb.Execute(ctx, succeed)
	cb.Execute(ctx, succeed)
	cb.Execute(ctx, succeed)
	cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_RequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	cb, _ := newTestBreaker(t, cfg)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), cb.GetStatistics().FailedRequests)
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb, _ := newTestBreaker(t, testConfig())
	changes := make(chan State, 1)
	cb.SetStateChangeCallback(func(name string, from, to State) {
		assert.Equal(t, "stt", name)
		changes <- to
	})

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), fail)
	}

	select {
	case to := <-changes:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change callback not called")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
