package indicator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinpulse/coinpulse/internal/backoff"
	"github.com/coinpulse/coinpulse/internal/clock"
	"github.com/coinpulse/coinpulse/internal/config"
	"github.com/coinpulse/coinpulse/internal/events"
	"github.com/coinpulse/coinpulse/internal/metrics"
	"github.com/coinpulse/coinpulse/internal/models"
	"github.com/coinpulse/coinpulse/internal/store"
)

// Store is the slice of the gateway the engine reads and writes through.
type Store interface {
	LatestBucket(ctx context.Context) (int64, bool, error)
	LatestIndicatorBucket(ctx context.Context) (int64, bool, error)
	HistoryWindow(ctx context.Context, alignedMs int64, offsetsMinutes []int) ([]models.WindowRow, error)
	UpsertIndicators(ctx context.Context, rows []models.IndicatorSample) (int, error)
}

// engineBackoff paces whole-bucket retries on transient store failures.
var engineBackoff = backoff.Policy{
	Base:   time.Second,
	Factor: 2,
	Cap:    15 * time.Second,
	Jitter: 0.2,
}

// heartbeatEvery is the poll cycle count between health events.
const heartbeatEvery = 100

// Status is the engine summary served on the ops status endpoint.
type Status struct {
	LastProcessedMs int64 `json:"last_processed_ms"`
	WatermarkMs     int64 `json:"watermark_ms"`
	LagBuckets      int64 `json:"lag_buckets"`
	BucketsDone     int64 `json:"buckets_done"`
	Polls           int64 `json:"polls"`
}

// Engine polls the snapshot watermark and computes the indicator battery
// for every bucket it has not processed yet, in strictly increasing
// order. It is single-goroutine; all state lives behind one mutex only
// for the benefit of Status readers.
type Engine struct {
	cfg   *config.Config
	clk   clock.Clock
	store Store
	sink  events.Emitter
	met   *metrics.Registry
	log   zerolog.Logger

	mu            sync.Mutex
	initialized   bool
	lastProcessed int64
	watermark     int64
	bucketsDone   int64
	polls         int64
	started       time.Time
}

// New wires an Engine. It does not start anything; call Run.
func New(cfg *config.Config, clk clock.Clock, st Store, sink events.Emitter, met *metrics.Registry, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		clk:   clk,
		store: st,
		sink:  sink,
		met:   met,
		log:   log.With().Str("component", "indicator").Logger(),
	}
}

// Run polls until ctx is cancelled. Only context errors propagate out;
// store failures are converted to per-bucket outcomes and retried on the
// next poll.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.started = e.clk.Now()
	e.mu.Unlock()

	e.log.Info().
		Dur("poll_interval", e.cfg.PollInterval()).
		Dur("safety_delay", e.cfg.SafetyDelay()).
		Int("max_catchup", e.cfg.MaxCatchup).
		Msg("indicator engine starting")

	for {
		if err := e.poll(ctx); err != nil {
			e.log.Info().Msg("indicator engine stopping")
			return err
		}
		if err := e.clk.Sleep(ctx, e.cfg.PollInterval()); err != nil {
			e.log.Info().Msg("indicator engine stopping")
			return err
		}
	}
}

// Status returns the current watermark view and processing counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	var lag int64
	if e.initialized && e.watermark > e.lastProcessed {
		lag = (e.watermark - e.lastProcessed) / e.cfg.BucketMs
	}
	return Status{
		LastProcessedMs: e.lastProcessed,
		WatermarkMs:     e.watermark,
		LagBuckets:      lag,
		BucketsDone:     e.bucketsDone,
		Polls:           e.polls,
	}
}

// poll runs one cycle: read the watermark, initialize the cold-start
// floor if needed, and catch up when the watermark has moved. Returned
// errors are context errors only.
func (e *Engine) poll(ctx context.Context) error {
	e.mu.Lock()
	e.polls++
	polls := e.polls
	e.mu.Unlock()
	if polls%heartbeatEvery == 0 {
		e.heartbeat()
	}

	wm, ok, err := e.store.LatestBucket(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.log.Warn().Err(err).Msg("watermark read failed")
		return nil
	}
	if !ok {
		// No snapshots yet; stay cold until the writer produces some.
		return nil
	}
	e.setWatermark(wm)

	if !e.ensureInitialized(ctx, wm) {
		return ctx.Err()
	}

	if wm <= e.last() {
		return nil
	}

	// One safety delay per catch-up entry lets the writer's in-flight
	// sub-batches land before the window read.
	if err := e.clk.Sleep(ctx, e.cfg.SafetyDelay()); err != nil {
		return err
	}
	e.catchUp(ctx)
	return nil
}

// ensureInitialized resolves the cold-start floor on the first poll that
// observes a non-empty snapshot table: resume from the indicator table's
// own watermark, or one bucket behind the snapshot watermark when the
// indicator table is empty.
func (e *Engine) ensureInitialized(ctx context.Context, wm int64) bool {
	e.mu.Lock()
	done := e.initialized
	e.mu.Unlock()
	if done {
		return true
	}

	last, ok, err := e.store.LatestIndicatorBucket(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("indicator watermark read failed")
		return false
	}
	if !ok {
		last = wm - e.cfg.BucketMs
	}

	e.mu.Lock()
	e.initialized = true
	e.lastProcessed = last
	e.mu.Unlock()
	e.log.Info().Int64("last_processed_ms", last).Msg("indicator engine initialized")
	return true
}

// catchUp processes buckets in order until the watermark is reached, the
// per-entry budget is spent, or a bucket fails. The watermark is re-read
// each iteration so buckets appearing mid-catch-up are picked up without
// waiting for the next poll.
func (e *Engine) catchUp(ctx context.Context) {
	for n := 0; n < e.cfg.MaxCatchup; n++ {
		if ctx.Err() != nil {
			return
		}
		wm, ok, err := e.store.LatestBucket(ctx)
		if err != nil || !ok {
			if err != nil {
				e.log.Warn().Err(err).Msg("watermark re-read failed")
			}
			return
		}
		e.setWatermark(wm)

		last := e.last()
		if last >= wm {
			return
		}
		next := last + e.cfg.BucketMs
		if !e.processBucket(ctx, next) {
			return
		}
		e.advance(next)
	}
}

type bucketStats struct {
	samples int
	assets  int
	skipped int
	written int
	retries int
}

// processBucket computes and writes one bucket, reporting whether the
// watermark may advance past it.
func (e *Engine) processBucket(ctx context.Context, alignedMs int64) bool {
	start := e.clk.Now()
	log := e.log.With().Int64("aligned_ms", alignedMs).Logger()

	e.emit(events.Event{
		Kind:    events.KindIndicatorStart,
		Level:   events.LevelInfo,
		Message: "indicator bucket started",
		Details: map[string]any{"aligned_time_ms": alignedMs},
	})

	st, err := e.runBucket(ctx, alignedMs)
	elapsed := e.clk.Now().Sub(start)
	if err != nil {
		e.met.IndicatorBuckets.WithLabelValues("failure").Inc()
		log.Error().Err(err).Int("retries", st.retries).Msg("indicator bucket failed")
		e.emit(events.Event{
			Kind:    events.KindIndicatorFailure,
			Level:   events.LevelError,
			Message: "indicator bucket failed",
			Details: map[string]any{
				"aligned_time_ms": alignedMs,
				"error":           models.TruncateError(err.Error()),
				"error_class":     errClass(err),
			},
		})
		return false
	}

	e.met.IndicatorBuckets.WithLabelValues("success").Inc()
	e.met.IndicatorsWritten.Add(float64(st.written))
	e.met.AssetsSkipped.Add(float64(st.skipped))
	e.met.IndicatorDuration.Observe(elapsed.Seconds())

	log.Info().
		Int("assets", st.assets).
		Int("skipped", st.skipped).
		Int("written", st.written).
		Dur("elapsed", elapsed).
		Msg("indicator bucket computed")
	e.emit(events.Event{
		Kind:    events.KindIndicatorSuccess,
		Level:   events.LevelInfo,
		Message: "indicator bucket computed",
		Metrics: map[string]float64{
			"aligned_time_ms":    float64(alignedMs),
			"assets_written":     float64(st.assets),
			"indicators_written": float64(st.written),
			"duration_ms":        float64(elapsed.Milliseconds()),
		},
	})
	return true
}

// runBucket is one read-compute-write pass with whole-bucket retries on
// transient store errors. Upserts are idempotent, so a retry after a
// partial write just re-lands the same rows.
func (e *Engine) runBucket(ctx context.Context, alignedMs int64) (bucketStats, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 1 {
			if err := e.clk.Sleep(ctx, engineBackoff.Delay(attempt-1)); err != nil {
				return bucketStats{retries: attempt - 1}, lastErr
			}
		}
		st, err := e.tryBucket(ctx, alignedMs)
		st.retries = attempt - 1
		if err == nil {
			return st, nil
		}
		lastErr = err
		if !store.IsTransient(err) {
			return st, err
		}
	}
	return bucketStats{retries: e.cfg.Retries - 1}, lastErr
}

func (e *Engine) tryBucket(ctx context.Context, alignedMs int64) (bucketStats, error) {
	rows, err := e.store.HistoryWindow(ctx, alignedMs, Offsets)
	if err != nil {
		return bucketStats{}, err
	}

	samples, assets, skipped := computeBucket(alignedMs, rows, e.clk.Now().UTC())
	st := bucketStats{samples: len(samples), assets: assets, skipped: skipped}
	if len(samples) == 0 {
		// A hole in the snapshot series still advances the watermark.
		return st, nil
	}

	n, err := e.store.UpsertIndicators(ctx, samples)
	st.written = n
	if err != nil {
		return st, err
	}
	return st, nil
}

func (e *Engine) heartbeat() {
	st := e.Status()
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	var uptime time.Duration
	if !started.IsZero() {
		uptime = e.clk.Now().Sub(started)
	}
	e.emit(events.Event{
		Kind:    events.KindHealth,
		Level:   events.LevelInfo,
		Message: "indicator engine heartbeat",
		Metrics: map[string]float64{
			"uptime_s":     uptime.Seconds(),
			"lag_buckets":  float64(st.LagBuckets),
			"buckets_done": float64(st.BucketsDone),
			"polls":        float64(st.Polls),
		},
	})
}

func (e *Engine) last() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastProcessed
}

func (e *Engine) advance(alignedMs int64) {
	e.mu.Lock()
	e.lastProcessed = alignedMs
	e.bucketsDone++
	wm := e.watermark
	e.mu.Unlock()
	if wm > alignedMs {
		e.met.IndicatorLagBucket.Set(float64((wm - alignedMs) / e.cfg.BucketMs))
	} else {
		e.met.IndicatorLagBucket.Set(0)
	}
}

func (e *Engine) setWatermark(wm int64) {
	e.mu.Lock()
	e.watermark = wm
	last := e.lastProcessed
	init := e.initialized
	e.mu.Unlock()
	if init && wm > last {
		e.met.IndicatorLagBucket.Set(float64((wm - last) / e.cfg.BucketMs))
	}
}

func (e *Engine) emit(ev events.Event) {
	ev.Service = e.cfg.ServiceName
	e.sink.Emit(ev)
}

// errClass maps an error to the taxonomy code carried in event details.
func errClass(err error) string {
	var se *store.StoreError
	if errors.As(err, &se) {
		return se.Class
	}
	return store.ClassTransient
}
