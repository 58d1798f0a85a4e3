package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coinpulse/coinpulse/internal/ops"
)

// shutdownGrace bounds the ops server drain after cancellation.
const shutdownGrace = 5 * time.Second

// Run starts both loops plus the ops server and blocks until ctx is
// cancelled. Cancellation is a clean stop and returns nil.
func (a *App) Run(ctx context.Context) error { return a.run(ctx, true, true) }

// RunIngest runs only the snapshot fetch loop (plus the ops server).
func (a *App) RunIngest(ctx context.Context) error { return a.run(ctx, true, false) }

// RunIndicator runs only the indicator engine (plus the ops server).
func (a *App) RunIndicator(ctx context.Context) error { return a.run(ctx, false, true) }

func (a *App) run(ctx context.Context, withIngest, withIndicator bool) error {
	g, ctx := errgroup.WithContext(ctx)

	if srv := a.opsServer(withIngest, withIndicator); srv != nil {
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shCtx)
		})
	}
	if withIngest {
		g.Go(func() error { return a.scheduler.Run(ctx) })
	}
	if withIndicator {
		g.Go(func() error { return a.engine.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) opsServer(withIngest, withIndicator bool) *ops.Server {
	if a.Cfg.OpsListenAddr == "" {
		return nil
	}
	opts := ops.Options{
		ListenAddr: a.Cfg.OpsListenAddr,
		Info:       ops.Info{Service: a.Cfg.ServiceName, Version: a.Version, RunID: a.RunID},
		Clock:      a.clk,
		DB:         a.gw,
		Metrics:    a.met,
		Log:        a.log,
	}
	if withIngest {
		opts.Ingest = a.scheduler.Status
		opts.RateLimit = a.limiter.Stats
	}
	if withIndicator {
		opts.Indicator = a.engine.Status
	}
	return ops.New(opts)
}

// RunOnce executes a single ingest tick and returns its outcome
// ("success", "partial", or "failure").
func (a *App) RunOnce(ctx context.Context) string {
	return a.scheduler.RunOnce(ctx)
}

// ProbeProvider checks upstream connectivity. The startup DB probe
// already ran in New, so the probe command only adds this call.
func (a *App) ProbeProvider(ctx context.Context) error {
	return a.prov.Ping(ctx)
}
