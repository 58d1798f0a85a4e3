package store

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/coinpulse/coinpulse/internal/models"
)

// UpsertSnapshots inserts or replaces one bucket's rows. Every row must
// carry the same AlignedTime; replacement is by (aligned_time, asset_id).
// The input is split into sub-batches of at most the configured size,
// each committed as one atomic statement. On failure the count of rows
// already durable is returned with the error, so callers can resolve a
// partial tick.
func (g *Gateway) UpsertSnapshots(ctx context.Context, rows []models.Snapshot) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	aligned := rows[0].AlignedTime
	for i := range rows[1:] {
		if rows[i+1].AlignedTime != aligned {
			return 0, &StoreError{Op: "upsert snapshots", Class: ClassPermanent, Err: ErrMixedBucket}
		}
	}

	written := 0
	for start := 0; start < len(rows); start += g.subBatch {
		end := min(start+g.subBatch, len(rows))
		if err := g.upsertSnapshotBatch(ctx, rows[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func (g *Gateway) upsertSnapshotBatch(ctx context.Context, rows []models.Snapshot) error {
	ctx, cancel := g.stmtCtx(ctx)
	defer cancel()

	query := buildUpsert(TableSnapshots, snapshotCols, snapshotKeyCols, len(rows))
	args := make([]any, 0, len(rows)*len(snapshotCols))
	for i := range rows {
		args = append(args, snapshotArgs(&rows[i])...)
	}
	_, err := g.db.ExecContext(ctx, query, args...)
	return wrap("upsert snapshots", err)
}

// LatestBucket returns the snapshot watermark: the greatest aligned_time
// in coin_data. ok is false when the table is empty.
func (g *Gateway) LatestBucket(ctx context.Context) (ms int64, ok bool, err error) {
	ctx, cancel := g.stmtCtx(ctx)
	defer cancel()

	var v sql.NullInt64
	if err := g.db.GetContext(ctx, &v, `SELECT max(aligned_time) FROM coin_data`); err != nil {
		return 0, false, wrap("latest bucket", err)
	}
	return v.Int64, v.Valid, nil
}

// HistoryWindow returns the projected rows for alignedMs minus each
// offset (minutes), across all assets, in one round trip. Rows with a
// null or non-positive price are excluded; the indicator battery cannot
// use them and the projection declares Price non-null.
func (g *Gateway) HistoryWindow(ctx context.Context, alignedMs int64, offsetsMinutes []int) ([]models.WindowRow, error) {
	ctx, cancel := g.stmtCtx(ctx)
	defer cancel()

	times := make(pq.Int64Array, len(offsetsMinutes))
	for i, off := range offsetsMinutes {
		times[i] = alignedMs - int64(off)*60_000
	}

	const query = `
		SELECT asset_id, aligned_time, price, total_volume
		FROM coin_data
		WHERE aligned_time = ANY($1) AND price > 0`

	var rows []models.WindowRow
	if err := g.db.SelectContext(ctx, &rows, query, times); err != nil {
		return nil, wrap("history window", err)
	}
	return rows, nil
}

// CountSnapshots reports how many rows one bucket holds. The ingest
// scheduler uses it for post-commit verification.
func (g *Gateway) CountSnapshots(ctx context.Context, alignedMs int64) (int, error) {
	ctx, cancel := g.stmtCtx(ctx)
	defer cancel()

	var n int
	err := g.db.GetContext(ctx, &n, `SELECT count(*) FROM coin_data WHERE aligned_time = $1`, alignedMs)
	if err != nil {
		return 0, wrap("count snapshots", err)
	}
	return n, nil
}
