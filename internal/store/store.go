// Package store is the sole typed access path to the snapshot table
// (coin_data), its sibling indicator table (indicator_data), and the
// sync_logs audit trail. Every SQL string in the repo lives here; the
// column lists the builders use are the same ones Probe checks against
// the live schema at boot.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	defaultStatementTimeout = 60 * time.Second
	defaultSubBatch         = 1000
)

// Gateway wraps one bounded connection pool shared by the ingest
// scheduler and the indicator engine. All methods apply the per-statement
// timeout; callers supply the outer deadline (tick budget) themselves.
type Gateway struct {
	db       *sqlx.DB
	timeout  time.Duration
	subBatch int
	log      zerolog.Logger
}

// Options bound the gateway's resource usage.
type Options struct {
	// PoolSize caps open connections; zero means 4.
	PoolSize int
	// StatementTimeout is the per-statement context budget; zero means 60s.
	StatementTimeout time.Duration
	// SubBatch is the largest row count committed atomically; zero means 1000.
	SubBatch int
}

func (o *Options) fill() {
	if o.PoolSize <= 0 {
		o.PoolSize = 4
	}
	if o.StatementTimeout <= 0 {
		o.StatementTimeout = defaultStatementTimeout
	}
	if o.SubBatch <= 0 {
		o.SubBatch = defaultSubBatch
	}
}

// Open connects to the snapshot store and configures the pool. It does
// not probe the schema; callers run Probe once at startup.
func Open(dsn string, opts Options, log zerolog.Logger) (*Gateway, error) {
	opts.fill()
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.PoolSize)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewGateway(db, opts, log), nil
}

// NewGateway wraps an existing pool; tests hand in their own.
func NewGateway(db *sqlx.DB, opts Options, log zerolog.Logger) *Gateway {
	opts.fill()
	return &Gateway{
		db:       db,
		timeout:  opts.StatementTimeout,
		subBatch: opts.SubBatch,
		log:      log.With().Str("component", "store").Logger(),
	}
}

// Close releases the pool.
func (g *Gateway) Close() error { return g.db.Close() }

// stmtCtx applies the per-statement timeout on top of the caller's
// context, so a stuck statement never consumes the whole tick budget.
func (g *Gateway) stmtCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}
