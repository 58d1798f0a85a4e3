package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpulse/coinpulse/internal/backoff"
	"github.com/coinpulse/coinpulse/internal/models"
	netclient "github.com/coinpulse/coinpulse/internal/net/client"
	"github.com/coinpulse/coinpulse/internal/provider"
	"github.com/coinpulse/coinpulse/internal/store"
)

// fetchBackoff paces page retries and sub-batch retries alike. An
// upstream Retry-After hint overrides the computed delay.
var fetchBackoff = backoff.Policy{
	Base:   time.Second,
	Factor: 2,
	Cap:    30 * time.Second,
	Jitter: 0.2,
}

// pageResult carries one fetched page through a wave.
type pageResult struct {
	page    int
	assets  []provider.MarketAsset
	retries int
	err     error
}

// fetchAndFlush runs the paged fetch concurrently with a single flusher
// goroutine. Rows stream through a channel bounded at one sub-batch, so
// peak memory stays at one sub-batch plus one wave of pages.
func (s *Scheduler) fetchAndFlush(ctx context.Context, log zerolog.Logger, alignedMs, rawMs int64) *tickResult {
	res := &tickResult{alignedMs: alignedMs, rawMs: rawMs}

	rows := make(chan models.Snapshot, s.cfg.SubBatch)
	flushed := make(chan flushStats, 1)
	go func() { flushed <- s.flushLoop(ctx, log, rows) }()

	s.fetchPages(ctx, log, res, rows)
	close(rows)

	fs := <-flushed
	res.rowsWritten = fs.written
	res.subBatchFailed = fs.failedRows
	res.retries += fs.retries
	if fs.firstErr != nil {
		res.noteErr(fs.firstErr)
	}
	return res
}

// fetchPages issues pages in waves of the configured concurrency so a
// stop condition seen in one wave prevents the next. Within a wave the
// results are handled in page order, which keeps the consecutive-failure
// count and the short-page stop deterministic.
func (s *Scheduler) fetchPages(ctx context.Context, log zerolog.Logger, res *tickResult, out chan<- models.Snapshot) {
	pageSize := s.fetch.PageSize()
	maxPages := s.cfg.PageCap
	if s.cfg.PagesPerTick > 0 && s.cfg.PagesPerTick < maxPages {
		maxPages = s.cfg.PagesPerTick
	}

	var floor decimal.Decimal
	floorOn := s.cfg.MinMarketCap > 0
	if floorOn {
		floor = decimal.NewFromFloat(s.cfg.MinMarketCap)
	}

	consecutive := 0
	for next := 1; next <= maxPages; {
		if ctx.Err() != nil {
			res.noteErr(ctx.Err())
			return
		}
		wave := s.cfg.Concurrency
		if rest := maxPages - next + 1; rest < wave {
			wave = rest
		}

		results := make([]pageResult, wave)
		var wg sync.WaitGroup
		for i := 0; i < wave; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pr := pageResult{page: next + i}
				pr.assets, pr.retries, pr.err = s.fetchPage(ctx, pr.page)
				results[i] = pr
			}(i)
		}
		wg.Wait()

		stop := false
		for _, pr := range results {
			res.pagesAttempted++
			res.retries += pr.retries
			if pr.err != nil {
				res.pagesFailed++
				res.noteErr(pr.err)
				s.met.PagesTotal.WithLabelValues("failed").Inc()
				log.Warn().Err(pr.err).Int("page", pr.page).Msg("page failed")
				consecutive++
				if consecutive >= s.cfg.MaxConsecutivePageFailures {
					log.Warn().
						Int("consecutive", consecutive).
						Msg("stopping pagination after consecutive page failures")
					stop = true
				}
				continue
			}
			consecutive = 0
			res.pagesOK++
			s.met.PagesTotal.WithLabelValues("ok").Inc()

			if s.streamPage(ctx, log, res, out, pr, floorOn, floor) {
				log.Info().
					Int("page", pr.page).
					Str("floor", floor.String()).
					Msg("market cap floor crossed, stopping pagination")
				stop = true
			}
			if len(pr.assets) < pageSize {
				stop = true
			}
		}
		if stop {
			return
		}
		next += wave
	}
}

// streamPage normalizes one page into the flusher channel and reports
// whether the market-cap floor was crossed on it. Rows below the floor
// are dropped; rows with a null market cap always pass.
func (s *Scheduler) streamPage(ctx context.Context, log zerolog.Logger, res *tickResult, out chan<- models.Snapshot, pr pageResult, floorOn bool, floor decimal.Decimal) bool {
	crossed := false
	for i := range pr.assets {
		a := &pr.assets[i]
		if floorOn && a.MarketCap.Valid && a.MarketCap.Decimal.LessThan(floor) {
			crossed = true
			continue
		}
		snap, err := normalizeAsset(a, res.alignedMs, res.rawMs)
		if err != nil {
			res.rowsSkipped++
			s.met.RowsSkipped.Inc()
			log.Warn().Err(err).Int("page", pr.page).Int("index", i).Msg("row rejected")
			continue
		}
		select {
		case out <- snap:
		case <-ctx.Done():
			res.noteErr(ctx.Err())
			return crossed
		}
	}
	return crossed
}

// fetchPage runs one page request under the retry schedule. The second
// return is the number of retries spent beyond the first attempt.
func (s *Scheduler) fetchPage(ctx context.Context, page int) ([]provider.MarketAsset, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 1 {
			delay := fetchBackoff.Delay(attempt - 1)
			if hint := netclient.RetryAfterHint(lastErr); hint > 0 {
				delay = hint
			}
			if err := s.clk.Sleep(ctx, delay); err != nil {
				return nil, attempt - 1, lastErr
			}
		}
		assets, err := s.fetch.MarketsPage(ctx, page)
		if err == nil {
			return assets, attempt - 1, nil
		}
		lastErr = err
		if !netclient.IsTransient(err) {
			return nil, attempt - 1, err
		}
	}
	return nil, s.cfg.Retries - 1, lastErr
}

type flushStats struct {
	written    int
	failedRows int
	retries    int
	firstErr   error
}

// flushLoop drains rows into sub-batches of at most sub_batch and writes
// each as one atomic statement. A sub-batch that fails after retries is
// counted and dropped; later sub-batches still run, so one poisoned
// batch cannot take down the whole tick.
func (s *Scheduler) flushLoop(ctx context.Context, log zerolog.Logger, rows <-chan models.Snapshot) flushStats {
	var fs flushStats
	buf := make([]models.Snapshot, 0, s.cfg.SubBatch)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		n, retries, err := s.upsertBatch(ctx, buf)
		fs.written += n
		fs.retries += retries
		if n > 0 {
			s.met.RowsWritten.Add(float64(n))
		}
		if err != nil {
			fs.failedRows += len(buf) - n
			s.met.SubBatchFailures.Inc()
			if fs.firstErr == nil {
				fs.firstErr = err
			}
			log.Error().Err(err).Int("rows", len(buf)).Msg("sub-batch failed")
		} else {
			log.Debug().Int("rows", n).Msg("sub-batch committed")
		}
		buf = buf[:0]
	}

	for row := range rows {
		buf = append(buf, row)
		if len(buf) >= s.cfg.SubBatch {
			flush()
		}
	}
	flush()
	return fs
}

// upsertBatch writes one sub-batch, retrying transient store errors on
// the shared backoff schedule.
func (s *Scheduler) upsertBatch(ctx context.Context, batch []models.Snapshot) (int, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 1 {
			if err := s.clk.Sleep(ctx, fetchBackoff.Delay(attempt-1)); err != nil {
				return 0, attempt - 1, lastErr
			}
		}
		n, err := s.store.UpsertSnapshots(ctx, batch)
		if err == nil {
			return n, attempt - 1, nil
		}
		lastErr = err
		if !store.IsTransient(err) {
			return 0, attempt - 1, err
		}
	}
	return 0, s.cfg.Retries - 1, lastErr
}
