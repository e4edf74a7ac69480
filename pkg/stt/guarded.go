package stt

import (
	"context"
	"io"

	"pss-server/pkg/circuitbreaker"
)

// GuardedTranscriber fails fast while the transcription service is down
type GuardedTranscriber struct {
	next    Transcriber
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedTranscriber wraps next with breaker
func NewGuardedTranscriber(next Transcriber, breaker *circuitbreaker.CircuitBreaker) *GuardedTranscriber {
	return &GuardedTranscriber{next: next, breaker: breaker}
}

// Upload uploads audio through the breaker
func (g *GuardedTranscriber) Upload(ctx context.Context, audio io.Reader) (string, error) {
	var url string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		url, err = g.next.Upload(ctx, audio)
		return err
	})
	return url, err
}

// Transcribe runs a transcription job through the breaker
func (g *GuardedTranscriber) Transcribe(ctx context.Context, req Request) (*Transcript, error) {
	var transcript *Transcript
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		transcript, err = g.next.Transcribe(ctx, req)
		return err
	})
	return transcript, err
}
