// Package ratelimit throttles API clients with per-key token buckets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Limiter implements a token bucket rate limiter with per-key tracking
type Limiter struct {
	rate       float64 // tokens per second
	burst      int
	clients    map[string]*bucket
	mu         sync.Mutex
	logger     *logrus.Logger
	cleanupTTL time.Duration
	now        func() time.Time
	stopOnce   sync.Once
	stop       chan struct{}
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
	blockUntil time.Time
}

// NewLimiter creates a limiter allowing rate requests per second per key with
// bursts of up to burst requests. Stale keys are dropped in the background
// until Stop is called.
func NewLimiter(rate float64, burst int, logger *logrus.Logger) *Limiter {
	l := &Limiter{
		rate:       rate,
		burst:      burst,
		clients:    make(map[string]*bucket),
		logger:     logger,
		cleanupTTL: 10 * time.Minute,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// Stop ends the background cleanup
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// refill must be called with mu held
func (l *Limiter) refill(key string, now time.Time) *bucket {
	b, exists := l.clients[key]
	if !exists {
		b = &bucket{tokens: float64(l.burst), lastUpdate: now}
		l.clients[key] = b
		return b
	}

	b.tokens += now.Sub(b.lastUpdate).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastUpdate = now
	return b
}

// Allow reports whether a request for key may proceed, consuming a token
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.refill(key, now)
	if now.Before(b.blockUntil) {
		return false
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Block refuses every request for key until duration has passed
func (l *Limiter) Block(key string, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.refill(key, now)
	b.tokens = 0
	b.blockUntil = now.Add(duration)

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"key":         key,
			"block_until": b.blockUntil,
		}).Warn("Client blocked due to rate limit violation")
	}
}

// Remaining returns the whole tokens currently available to key
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.clients[key]
	if !exists {
		return l.burst
	}

	tokens := b.tokens + l.now().Sub(b.lastUpdate).Seconds()*l.rate
	if tokens > float64(l.burst) {
		tokens = float64(l.burst)
	}
	return int(tokens)
}

// ClientCount returns the number of tracked keys
func (l *Limiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cleanupTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictStale()
		}
	}
}

func (l *Limiter) evictStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.clients {
		if now.Sub(b.lastUpdate) > l.cleanupTTL && now.After(b.blockUntil) {
			delete(l.clients, key)
		}
	}
}
