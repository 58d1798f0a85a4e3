// Package ratelimit paces outbound provider requests with a token
// bucket so the upstream quota is never exceeded.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the shared request pacer for the market-data provider.
// Burst is fixed at 1: page requests are spaced at least 1/rps apart
// regardless of how many fetch workers are running.
type Limiter struct {
	bucket *rate.Limiter
}

// New returns a Limiter admitting rps requests per second.
func New(rps float64) *Limiter {
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the next request may go out or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// Allow reports whether a request may go out right now, consuming the
// token when it may.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

// Stats is a point-in-time readout for the status endpoint.
type Stats struct {
	RPS       float64       `json:"rps"`
	Tokens    float64       `json:"tokens"`
	NextDelay time.Duration `json:"next_delay"`
}

// Stats reports the current pacing state without consuming a token.
func (l *Limiter) Stats() Stats {
	r := l.bucket.Reserve()
	delay := r.Delay()
	r.Cancel()
	return Stats{
		RPS:       float64(l.bucket.Limit()),
		Tokens:    l.bucket.Tokens(),
		NextDelay: delay,
	}
}
