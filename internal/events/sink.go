package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinpulse/coinpulse/internal/metrics"
)

// Channel delivers one event to one destination. Retries, formatting,
// and timeouts are the channel's own concern.
type Channel interface {
	Deliver(ctx context.Context, ev Event) error
	Name() string
}

const (
	defaultQueueSize   = 256
	deliverBudget      = 30 * time.Second
	closeDrainDeadline = 5 * time.Second
)

// Sink fans events out to its channels from a dispatcher goroutine.
// Emit never blocks: when the queue is full the event is counted and
// dropped. Delivery failures are logged and swallowed.
type Sink struct {
	queue    chan Event
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	channels []Channel
	log      zerolog.Logger
	metrics  *metrics.Registry
}

// Option adjusts Sink construction.
type Option func(*Sink)

// WithQueueSize overrides the emit queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.queue = make(chan Event, n)
		}
	}
}

// NewSink starts the dispatcher. Close releases it.
func NewSink(channels []Channel, log zerolog.Logger, m *metrics.Registry, opts ...Option) *Sink {
	s := &Sink{
		queue:    make(chan Event, defaultQueueSize),
		done:     make(chan struct{}),
		channels: channels,
		log:      log.With().Str("component", "events").Logger(),
		metrics:  m,
	}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Emit enqueues ev for delivery and returns immediately.
func (s *Sink) Emit(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}
	select {
	case s.queue <- ev:
		s.metrics.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	default:
		s.metrics.EventsDropped.Inc()
		s.log.Warn().Str("kind", string(ev.Kind)).Msg("event queue full, dropping")
	}
}

// Close stops accepting events and drains what is already queued, bounded
// by a short deadline.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.done) })

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(closeDrainDeadline):
		s.log.Warn().Msg("event sink close deadline exceeded, abandoning queue")
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.queue:
			s.dispatch(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.queue:
					s.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) dispatch(ev Event) {
	for _, ch := range s.channels {
		ctx, cancel := context.WithTimeout(context.Background(), deliverBudget)
		if err := ch.Deliver(ctx, ev); err != nil {
			s.log.Warn().
				Err(err).
				Str("channel", ch.Name()).
				Str("kind", string(ev.Kind)).
				Msg("event delivery failed")
		}
		cancel()
	}
}
