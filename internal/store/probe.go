package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// Probe pings the store and verifies that every table and column the
// gateway's SQL builders reference exists in the live schema. Schema
// bootstrap is external (docs/schema.sql); the probe only detects drift,
// it never creates anything. A probe failure at startup is the exit-2
// path.
func (g *Gateway) Probe(ctx context.Context) error {
	ctx, cancel := g.stmtCtx(ctx)
	defer cancel()

	if err := g.db.PingContext(ctx); err != nil {
		return wrap("probe ping", err)
	}

	tables := make([]string, 0, len(probeColumns))
	for t := range probeColumns {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	const query = `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ANY($1)`

	rows, err := g.db.QueryContext(ctx, query, pq.Array(tables))
	if err != nil {
		return wrap("probe schema", err)
	}
	defer rows.Close()

	found := make(map[string]map[string]bool, len(tables))
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return wrap("probe schema", err)
		}
		if found[table] == nil {
			found[table] = make(map[string]bool)
		}
		found[table][column] = true
	}
	if err := rows.Err(); err != nil {
		return wrap("probe schema", err)
	}

	if missing := missingColumns(found); len(missing) > 0 {
		return &StoreError{
			Op:    "probe schema",
			Class: ClassPermanent,
			Err:   fmt.Errorf("schema mismatch, missing: %s", strings.Join(missing, ", ")),
		}
	}

	g.log.Debug().Int("tables", len(tables)).Msg("schema probe ok")
	return nil
}

// missingColumns compares the live schema against the authoritative
// lists and reports absent tables or columns as table.column strings,
// sorted for stable messages.
func missingColumns(found map[string]map[string]bool) []string {
	var missing []string
	for table, cols := range probeColumns {
		live := found[table]
		if live == nil {
			missing = append(missing, table+" (table absent)")
			continue
		}
		for _, col := range cols {
			if !live[col] {
				missing = append(missing, table+"."+col)
			}
		}
	}
	sort.Strings(missing)
	return missing
}
