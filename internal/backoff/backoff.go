// Package backoff computes capped exponential retry delays with jitter.
// The fetch loop, the snapshot flusher, and the indicator engine share
// the same schedule shape with different caps.
package backoff

import (
	"math/rand"
	"time"
)

// Policy describes one retry schedule. The zero value is not usable;
// construct with the component's constants.
type Policy struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	// Jitter is the +/- fraction applied to the computed delay, e.g.
	// 0.2 for +/-20%. Zero disables jitter.
	Jitter float64
}

// Delay returns the wait before retry number attempt (1-based): base *
// factor^(attempt-1), capped, then jittered. Non-positive attempts are
// treated as the first retry.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
		if time.Duration(d) >= p.Cap {
			break
		}
	}
	if cap := float64(p.Cap); d > cap {
		d = cap
	}
	if p.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*p.Jitter
		if cap := float64(p.Cap); d > cap {
			d = cap
		}
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}
