package ingest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coinpulse/coinpulse/internal/clock"
	"github.com/coinpulse/coinpulse/internal/events"
	"github.com/coinpulse/coinpulse/internal/models"
	netclient "github.com/coinpulse/coinpulse/internal/net/client"
	"github.com/coinpulse/coinpulse/internal/store"
)

// tickResult accumulates one tick's accounting. firstErr keeps the
// earliest terminal error for the sync log and the outcome event.
type tickResult struct {
	alignedMs      int64
	rawMs          int64
	pagesAttempted int
	pagesOK        int
	pagesFailed    int
	rowsWritten    int
	rowsSkipped    int
	subBatchFailed int
	retries        int
	firstErr       error
}

func (r *tickResult) noteErr(err error) {
	if r.firstErr == nil {
		r.firstErr = err
	}
}

// outcome resolves the tick per the three-way contract: success needs
// every attempted page and sub-batch to have succeeded; with any failure
// the committed row count separates partial from failure. A tick that
// fetched nothing because the catalog was empty is a success.
func (r *tickResult) outcome() string {
	failed := r.pagesFailed > 0 || r.subBatchFailed > 0 || r.firstErr != nil
	switch {
	case !failed:
		return models.TickSuccess
	case r.rowsWritten > 0:
		return models.TickPartial
	default:
		return models.TickFailure
	}
}

// RunOnce executes a single tick for the current bucket and returns its
// outcome. Run calls it per boundary; the once command calls it directly.
func (s *Scheduler) RunOnce(parent context.Context) string {
	if parent.Err() != nil {
		// Shutdown raced the boundary; no tick, no audit row.
		return models.TickFailure
	}

	start := s.clk.Now()
	rawMs := start.UnixMilli()
	alignedMs := clock.AlignMs(rawMs, s.cfg.BucketMs)
	tickID := uuid.NewString()

	log := s.log.With().Str("tick_id", tickID).Int64("aligned_ms", alignedMs).Logger()
	s.setState(StateRunning)
	log.Info().Int64("raw_ms", rawMs).Msg("tick started")
	s.emit(events.Event{
		Kind:    events.KindSyncStart,
		Level:   events.LevelInfo,
		Message: "market snapshot tick started",
		Details: map[string]any{"tick_id": tickID, "aligned_time_ms": alignedMs},
	})

	ctx, cancel := context.WithTimeout(parent, s.cfg.TickDeadline())
	res := s.fetchAndFlush(ctx, log, alignedMs, rawMs)
	cancel()

	outcome := res.outcome()
	elapsed := s.clk.Now().Sub(start)

	if res.rowsWritten > 0 {
		s.setState(StateCommit)
		s.verifyCommit(parent, log, alignedMs, res.rowsWritten)
	} else {
		s.setState(StateAborting)
	}

	s.met.TicksTotal.WithLabelValues(outcome).Inc()
	s.met.TickDuration.Observe(elapsed.Seconds())
	s.met.LastAlignedMs.Set(float64(alignedMs))

	errMsg := ""
	if res.firstErr != nil {
		errMsg = models.TruncateError(res.firstErr.Error())
	}
	s.emit(outcomeEvent(tickID, outcome, res, elapsed, errMsg))
	s.appendSyncLog(parent, log, tickID, start, outcome, res, errMsg)

	var evt *zerolog.Event
	switch outcome {
	case models.TickPartial:
		evt = log.Warn()
	case models.TickFailure:
		evt = log.Error()
	default:
		evt = log.Info()
	}
	evt.
		Str("outcome", outcome).
		Int("pages_ok", res.pagesOK).
		Int("pages_failed", res.pagesFailed).
		Int("rows_written", res.rowsWritten).
		Int("rows_skipped", res.rowsSkipped).
		Dur("elapsed", elapsed).
		Msg("tick finished")

	s.finishTick(alignedMs, outcome, res.rowsWritten, errMsg)
	return outcome
}

// verifyCommit compares the bucket's row count against what this tick
// wrote. Replays over an earlier partial tick make the count larger;
// smaller means rows went missing between commit and read.
func (s *Scheduler) verifyCommit(parent context.Context, log zerolog.Logger, alignedMs int64, written int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.StatementTimeout())
	defer cancel()

	n, err := s.store.CountSnapshots(ctx, alignedMs)
	if err != nil {
		log.Debug().Err(err).Msg("post-commit count unavailable")
		return
	}
	if n != written {
		log.Warn().
			Int("rows_written", written).
			Int("bucket_rows", n).
			Msg("post-commit row count mismatch")
	}
}

// appendSyncLog writes the audit row. The tick context may already be
// dead here, so the write runs on its own bounded context; losing the
// audit row is logged but never changes the tick outcome.
func (s *Scheduler) appendSyncLog(parent context.Context, log zerolog.Logger, tickID string, start time.Time, outcome string, res *tickResult, errMsg string) {
	entry := models.SyncLog{
		TickID:         tickID,
		SyncType:       models.SyncTypeMarketSnapshot,
		AlignedTime:    res.alignedMs,
		StartedAt:      start.UTC(),
		FinishedAt:     s.clk.Now().UTC(),
		PagesAttempted: res.pagesAttempted,
		PagesOK:        res.pagesOK,
		RowsWritten:    res.rowsWritten,
		Status:         outcome,
		RetryCount:     res.retries,
	}
	if errMsg != "" {
		entry.Error = sql.NullString{String: errMsg, Valid: true}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.StatementTimeout())
	defer cancel()
	if err := s.store.AppendSyncLog(ctx, entry); err != nil {
		log.Error().Err(err).Msg("sync log append failed")
	}
}

func outcomeEvent(tickID, outcome string, res *tickResult, elapsed time.Duration, errMsg string) events.Event {
	kind, level := events.KindSyncSuccess, events.LevelInfo
	switch outcome {
	case models.TickPartial:
		kind, level = events.KindSyncPartial, events.LevelWarn
	case models.TickFailure:
		kind, level = events.KindSyncFailure, events.LevelError
	}

	ev := events.Event{
		Kind:    kind,
		Level:   level,
		Message: "market snapshot tick " + outcome,
		Details: map[string]any{"tick_id": tickID},
		Metrics: map[string]float64{
			"pages_ok":        float64(res.pagesOK),
			"pages_failed":    float64(res.pagesFailed),
			"rows_written":    float64(res.rowsWritten),
			"duration_ms":     float64(elapsed.Milliseconds()),
			"aligned_time_ms": float64(res.alignedMs),
		},
	}
	if errMsg != "" {
		ev.Details["error"] = errMsg
		ev.Details["error_class"] = errClass(res.firstErr)
	}
	return ev
}

// errClass maps an error to the taxonomy code carried in event details.
func errClass(err error) string {
	var pe *netclient.ProviderError
	if errors.As(err, &pe) {
		if pe.Transient() {
			return store.ClassTransient
		}
		return store.ClassPermanent
	}
	var se *store.StoreError
	if errors.As(err, &se) {
		return se.Class
	}
	return store.ClassTransient
}
