// Package clock is the single timer primitive behind both schedulers.
// Components take a Clock instead of calling time.Now or time.Sleep so
// tests can substitute the deterministic Virtual implementation.
package clock

import (
	"context"
	"time"
)

// Clock abstracts wall-clock reads and cancellable sleeps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case. Non-positive durations return immediately.
	Sleep(ctx context.Context, d time.Duration) error
}

type wall struct{}

// Wall returns the real-time Clock.
func Wall() Clock { return wall{} }

func (wall) Now() time.Time { return time.Now() }

func (wall) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AlignMs snaps an epoch-millisecond instant down to a bucket boundary.
// bucketMs must be positive.
func AlignMs(ms, bucketMs int64) int64 {
	return ms - ms%bucketMs
}

// Align snaps t down to a bucket boundary in epoch time.
func Align(t time.Time, bucket time.Duration) time.Time {
	ms := AlignMs(t.UnixMilli(), bucket.Milliseconds())
	return time.UnixMilli(ms).UTC()
}

// AlignedTicker fires at multiples of bucket on the epoch timeline. It
// only fires at boundaries, never late: a boundary that arrives while the
// caller is away (busy with a tick, or the wall clock jumped forward)
// gets no fire and is reported as skipped on the next one.
type AlignedTicker struct {
	clock  Clock
	bucket time.Duration
	prev   time.Time // last boundary returned; zero before the first fire
}

// NewAlignedTicker returns a ticker whose first fire is the first boundary
// strictly after the current time.
func NewAlignedTicker(c Clock, bucket time.Duration) *AlignedTicker {
	return &AlignedTicker{clock: c, bucket: bucket}
}

// Wait blocks until the next bucket boundary strictly after now and
// returns it, along with the count of boundaries that passed unobserved
// since the previous fire. A backward clock step never re-fires an old
// boundary; Wait keeps sleeping until time passes the last fire again.
func (t *AlignedTicker) Wait(ctx context.Context) (fired time.Time, skipped int, err error) {
	for {
		now := t.clock.Now()
		next := Align(now, t.bucket).Add(t.bucket)
		if err := t.clock.Sleep(ctx, next.Sub(now)); err != nil {
			return time.Time{}, 0, err
		}

		now = t.clock.Now()
		if now.Before(next) {
			// Woke before the boundary (wall clock stepped back); go
			// around again.
			continue
		}
		fired = Align(now, t.bucket)
		if !t.prev.IsZero() && !fired.After(t.prev) {
			continue
		}
		if t.prev.IsZero() {
			skipped = int(fired.Sub(next) / t.bucket)
		} else {
			skipped = int(fired.Sub(t.prev)/t.bucket) - 1
		}
		t.prev = fired
		return fired, skipped, nil
	}
}
