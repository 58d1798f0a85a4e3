package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogChannel mirrors every event into the process log, so deployments
// without webhooks still have a full event trail.
type LogChannel struct {
	log zerolog.Logger
}

func NewLogChannel(log zerolog.Logger) *LogChannel {
	return &LogChannel{log: log.With().Str("component", "event").Logger()}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(_ context.Context, ev Event) error {
	var e *zerolog.Event
	switch ev.Level {
	case LevelWarn:
		e = c.log.Warn()
	case LevelError, LevelCritical:
		e = c.log.Error()
	default:
		e = c.log.Info()
	}
	if ev.Level == LevelCritical {
		e = e.Str("severity", string(LevelCritical))
	}
	e.Str("kind", string(ev.Kind)).
		Str("service", ev.Service).
		Int64("ts", ev.Ts)
	if len(ev.Details) > 0 {
		e = e.Interface("details", ev.Details)
	}
	if len(ev.Metrics) > 0 {
		e = e.Interface("metrics", ev.Metrics)
	}
	e.Msg(ev.Message)
	return nil
}
