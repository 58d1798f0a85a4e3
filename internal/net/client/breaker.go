package client

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	breakerTripAfter    = 5
	breakerOpenTimeout  = 30 * time.Second
	breakerCountsWindow = 60 * time.Second
)

// NewBreaker returns the provider circuit breaker. It opens after five
// consecutive failures, stays open for thirty seconds, then lets a single
// probe request through.
func NewBreaker(name string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    breakerCountsWindow,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}
