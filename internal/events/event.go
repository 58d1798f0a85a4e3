// Package events is the emit-only operational event path: callers hand
// structured events to a Sink and never learn whether delivery worked.
package events

// Kind is the closed set of event kinds the pipeline emits.
type Kind string

const (
	KindSyncStart        Kind = "sync_start"
	KindSyncSuccess      Kind = "sync_success"
	KindSyncPartial      Kind = "sync_partial"
	KindSyncFailure      Kind = "sync_failure"
	KindIndicatorStart   Kind = "indicator_start"
	KindIndicatorSuccess Kind = "indicator_success"
	KindIndicatorFailure Kind = "indicator_failure"
	KindHealth           Kind = "health"
)

// Level mirrors the outbound severity field; it is not a log level.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Event is the outbound payload posted to each channel. Ts is epoch
// milliseconds; the Sink stamps it when zero.
type Event struct {
	Service string             `json:"service"`
	Kind    Kind               `json:"kind"`
	Level   Level              `json:"level"`
	Message string             `json:"message"`
	Ts      int64              `json:"ts"`
	Details map[string]any     `json:"details,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Emitter is what components depend on; Sink is the production
// implementation.
type Emitter interface {
	Emit(ev Event)
}

// Discard is an Emitter that drops everything (tests, disabled sinks).
type Discard struct{}

func (Discard) Emit(Event) {}
