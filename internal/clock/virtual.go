package clock

import (
	"context"
	"sync"
	"time"
)

// Virtual is a manually advanced Clock for tests. Sleepers park until
// Advance or Set moves the clock past their deadline.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	at time.Time
	ch chan struct{}
}

// NewVirtual returns a Virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	v.mu.Lock()
	w := &waiter{at: v.now.Add(d), ch: make(chan struct{})}
	v.waiters = append(v.waiters, w)
	v.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		v.drop(w)
		return ctx.Err()
	}
}

// Advance moves the clock forward by d, waking every sleeper whose
// deadline has passed.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.setLocked(v.now.Add(d))
	v.mu.Unlock()
}

// Set jumps the clock to t (forward jumps only make sense here; the
// boundary-skip behavior of AlignedTicker is tested this way).
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	v.setLocked(t)
	v.mu.Unlock()
}

func (v *Virtual) setLocked(t time.Time) {
	v.now = t
	rest := v.waiters[:0]
	for _, w := range v.waiters {
		if w.at.After(v.now) {
			rest = append(rest, w)
			continue
		}
		close(w.ch)
	}
	v.waiters = rest
}

// Sleepers reports how many goroutines are currently parked in Sleep.
// Tests use it to know when a loop under test has reached its wait point.
func (v *Virtual) Sleepers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.waiters)
}

func (v *Virtual) drop(target *waiter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, w := range v.waiters {
		if w == target {
			v.waiters = append(v.waiters[:i], v.waiters[i+1:]...)
			return
		}
	}
}
