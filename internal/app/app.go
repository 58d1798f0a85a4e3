// Package app assembles the pipeline from configuration and owns the
// process run modes the CLI commands invoke: both loops, one loop, a
// single tick, or a connectivity probe.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coinpulse/coinpulse/internal/clock"
	"github.com/coinpulse/coinpulse/internal/config"
	"github.com/coinpulse/coinpulse/internal/events"
	"github.com/coinpulse/coinpulse/internal/indicator"
	"github.com/coinpulse/coinpulse/internal/ingest"
	"github.com/coinpulse/coinpulse/internal/metrics"
	netclient "github.com/coinpulse/coinpulse/internal/net/client"
	"github.com/coinpulse/coinpulse/internal/net/ratelimit"
	"github.com/coinpulse/coinpulse/internal/provider"
	"github.com/coinpulse/coinpulse/internal/store"
)

// Exit codes for startup failures and the one-shot commands. Runtime
// faults never exit the process.
const (
	ExitOK     = 0
	ExitConfig = 1
	ExitDB     = 2
)

// FatalError pins the exit code a startup failure maps to.
type FatalError struct {
	Code int
	Err  error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit code. Unclassified errors exit 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ExitConfig
}

// App is one wired process: shared DB pool, provider stack, event sink,
// metrics registry, and the two loop components.
type App struct {
	Cfg     *config.Config
	Version string
	RunID   string

	log     zerolog.Logger
	clk     clock.Clock
	gw      *store.Gateway
	prov    *provider.Client
	sink    *events.Sink
	met     *metrics.Registry
	limiter *ratelimit.Limiter

	scheduler *ingest.Scheduler
	engine    *indicator.Engine
}

// New wires every component and runs the startup schema probe. The
// returned App owns the DB pool and the event sink; call Close when done.
func New(ctx context.Context, cfg *config.Config, version string, log zerolog.Logger) (*App, error) {
	runID := uuid.NewString()[:8]
	log = log.With().Str("run_id", runID).Logger()
	clk := clock.Wall()
	met := metrics.New()

	gw, err := store.Open(cfg.DBDSN, store.Options{
		PoolSize:         cfg.PoolSize(),
		StatementTimeout: cfg.StatementTimeout(),
		SubBatch:         cfg.SubBatch,
	}, log)
	if err != nil {
		return nil, &FatalError{Code: ExitConfig, Err: err}
	}
	if err := gw.Probe(ctx); err != nil {
		gw.Close()
		return nil, &FatalError{Code: ExitDB, Err: fmt.Errorf("startup probe: %w", err)}
	}

	limiter := ratelimit.New(cfg.RateLimitRPS)
	breaker := netclient.NewBreaker(provider.Name, log)
	httpClient := netclient.NewClient(provider.Name, cfg.HTTPTimeout(), limiter, breaker)
	prov := provider.New(httpClient, provider.Config{
		BaseURL:  cfg.APIBaseURL,
		APIKey:   cfg.APIKey,
		Quote:    cfg.QuoteCurrency,
		PageSize: cfg.PageSize,
	}, log)

	channels := []events.Channel{events.NewLogChannel(log)}
	for _, u := range cfg.WebhookURLs {
		channels = append(channels, events.NewWebhookChannel(u, cfg.WebhookTimeout(), met.WebhookFailures))
	}
	sink := events.NewSink(channels, log, met)

	a := &App{
		Cfg:     cfg,
		Version: version,
		RunID:   runID,
		log:     log,
		clk:     clk,
		gw:      gw,
		prov:    prov,
		sink:    sink,
		met:     met,
		limiter: limiter,
	}
	a.scheduler = ingest.New(cfg, clk, gw, prov, sink, met, log)
	a.engine = indicator.New(cfg, clk, gw, sink, met, log)

	log.Info().
		Str("version", version).
		Str("db", cfg.RedactedDSN()).
		Str("provider", provider.Name).
		Int("webhooks", len(cfg.WebhookURLs)).
		Msg("pipeline wired")
	return a, nil
}

// Close drains the event sink and releases the DB pool.
func (a *App) Close() {
	a.sink.Close()
	if err := a.gw.Close(); err != nil {
		a.log.Warn().Err(err).Msg("store close failed")
	}
}
