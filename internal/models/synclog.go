package models

import (
	"database/sql"
	"time"
)

// Tick outcomes. A tick is partial when at least one row committed and at
// least one page or sub-batch failed terminally; failure means nothing
// committed.
const (
	TickSuccess = "success"
	TickPartial = "partial"
	TickFailure = "failure"
)

// SyncTypeMarketSnapshot tags sync-log rows written by the market
// snapshot ingest loop.
const SyncTypeMarketSnapshot = "market_snapshot"

// SyncLogErrorMaxLen bounds the stored first-error message.
const SyncLogErrorMaxLen = 500

// SyncLog is one append-only audit row per ingest tick.
type SyncLog struct {
	ID             int64          `db:"id"`
	TickID         string         `db:"tick_id"`
	SyncType       string         `db:"sync_type"`
	AlignedTime    int64          `db:"aligned_time"`
	StartedAt      time.Time      `db:"started_at"`
	FinishedAt     time.Time      `db:"finished_at"`
	PagesAttempted int            `db:"pages_attempted"`
	PagesOK        int            `db:"pages_ok"`
	RowsWritten    int            `db:"rows_written"`
	Status         string         `db:"status"`
	Error          sql.NullString `db:"error"`
	RetryCount     int            `db:"retry_count"`
	CreatedAt      time.Time      `db:"created_at"`
}

// TruncateError clips an error message to the stored column width.
func TruncateError(msg string) string {
	if len(msg) <= SyncLogErrorMaxLen {
		return msg
	}
	return msg[:SyncLogErrorMaxLen]
}
