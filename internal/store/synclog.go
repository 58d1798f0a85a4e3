package store

import (
	"context"

	"github.com/coinpulse/coinpulse/internal/models"
)

// AppendSyncLog records one ingest tick's audit row. The error message
// is expected to be pre-truncated by models.TruncateError.
func (g *Gateway) AppendSyncLog(ctx context.Context, entry models.SyncLog) error {
	ctx, cancel := g.stmtCtx(ctx)
	defer cancel()

	query := buildInsert(TableSyncLogs, syncLogCols)
	_, err := g.db.ExecContext(ctx, query,
		entry.TickID,
		entry.SyncType,
		entry.AlignedTime,
		entry.StartedAt,
		entry.FinishedAt,
		entry.PagesAttempted,
		entry.PagesOK,
		entry.RowsWritten,
		entry.Status,
		entry.Error,
		entry.RetryCount,
	)
	return wrap("append sync log", err)
}
