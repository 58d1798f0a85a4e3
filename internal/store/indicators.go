package store

import (
	"context"
	"database/sql"

	"github.com/coinpulse/coinpulse/internal/models"
)

// UpsertIndicators inserts or replaces indicator rows, keyed by
// (aligned_time, asset_id, indicator_name, timeframe). Same sub-batch
// contract as UpsertSnapshots; indicator rows for one bucket share an
// aligned_time by construction, so no mixed-bucket check is needed.
func (g *Gateway) UpsertIndicators(ctx context.Context, rows []models.IndicatorSample) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	written := 0
	for start := 0; start < len(rows); start += g.subBatch {
		end := min(start+g.subBatch, len(rows))
		if err := g.upsertIndicatorBatch(ctx, rows[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func (g *Gateway) upsertIndicatorBatch(ctx context.Context, rows []models.IndicatorSample) error {
	ctx, cancel := g.stmtCtx(ctx)
	defer cancel()

	query := buildUpsert(TableIndicators, indicatorCols, indicatorKeyCols, len(rows))
	args := make([]any, 0, len(rows)*len(indicatorCols))
	for i := range rows {
		args = append(args, indicatorArgs(&rows[i])...)
	}
	_, err := g.db.ExecContext(ctx, query, args...)
	return wrap("upsert indicators", err)
}

// LatestIndicatorBucket returns the indicator watermark, the cold-start
// input for the engine. ok is false when the table is empty.
func (g *Gateway) LatestIndicatorBucket(ctx context.Context) (ms int64, ok bool, err error) {
	ctx, cancel := g.stmtCtx(ctx)
	defer cancel()

	var v sql.NullInt64
	if err := g.db.GetContext(ctx, &v, `SELECT max(aligned_time) FROM indicator_data`); err != nil {
		return 0, false, wrap("latest indicator bucket", err)
	}
	return v.Int64, v.Valid, nil
}
