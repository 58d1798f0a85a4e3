package store

import (
	"fmt"
	"strings"

	"github.com/coinpulse/coinpulse/internal/models"
)

// Authoritative column lists. The upsert builders, the window
// projection, and the boot-time schema probe all derive from these; a
// column added here is automatically written, checked, and updated on
// conflict.
//
// row_created_at and sync_logs.id/created_at are server-defaulted and
// deliberately absent from the insert lists: replaying a bucket must not
// rewrite the original insertion time.

const (
	TableSnapshots  = "coin_data"
	TableIndicators = "indicator_data"
	TableSyncLogs   = "sync_logs"
)

// snapshotCols is the insert column order for coin_data. The first two
// are the primary key.
var snapshotCols = []string{
	"aligned_time",
	"asset_id",
	"raw_time",
	"symbol",
	"display_name",
	"icon_url",
	"price",
	"market_cap",
	"market_cap_rank",
	"fully_diluted_valuation",
	"total_volume",
	"circulating_supply",
	"total_supply",
	"max_supply",
	"high_24h",
	"low_24h",
	"price_change_24h",
	"price_change_pct_24h",
	"price_change_pct_7d",
	"price_change_pct_30d",
	"market_cap_change_24h",
	"market_cap_change_pct_24h",
	"ath",
	"ath_change_pct",
	"ath_date",
	"atl",
	"atl_change_pct",
	"atl_date",
	"last_updated",
}

const snapshotKeyCols = 2

var indicatorCols = []string{
	"aligned_time",
	"asset_id",
	"indicator_name",
	"timeframe",
	"value",
	"computed_at",
}

const indicatorKeyCols = 4

var syncLogCols = []string{
	"tick_id",
	"sync_type",
	"aligned_time",
	"started_at",
	"finished_at",
	"pages_attempted",
	"pages_ok",
	"rows_written",
	"status",
	"error",
	"retry_count",
}

// probeColumns is what the boot-time schema probe requires per table:
// the insert lists plus the server-defaulted columns the gateway reads
// or relies on.
var probeColumns = map[string][]string{
	TableSnapshots:  append(append([]string{}, snapshotCols...), "row_created_at"),
	TableIndicators: indicatorCols,
	TableSyncLogs:   append(append([]string{}, syncLogCols...), "id", "created_at"),
}

// snapshotArgs flattens one row in snapshotCols order.
func snapshotArgs(s *models.Snapshot) []any {
	return []any{
		s.AlignedTime,
		s.AssetID,
		s.RawTime,
		s.Symbol,
		s.DisplayName,
		s.IconURL,
		s.Price,
		s.MarketCap,
		s.MarketCapRank,
		s.FullyDilutedValuation,
		s.TotalVolume,
		s.CirculatingSupply,
		s.TotalSupply,
		s.MaxSupply,
		s.High24h,
		s.Low24h,
		s.PriceChange24h,
		s.PriceChangePct24h,
		s.PriceChangePct7d,
		s.PriceChangePct30d,
		s.MarketCapChange24h,
		s.MarketCapChangePct24h,
		s.ATH,
		s.ATHChangePct,
		s.ATHDate,
		s.ATL,
		s.ATLChangePct,
		s.ATLDate,
		s.LastUpdated,
	}
}

func indicatorArgs(r *models.IndicatorSample) []any {
	return []any{
		r.AlignedTime,
		r.AssetID,
		r.Name,
		r.Timeframe,
		r.Value,
		r.ComputedAt,
	}
}

// buildUpsert renders a multi-row INSERT ... ON CONFLICT DO UPDATE with
// positional binds. The first keyCols columns form the conflict target;
// every other column is replaced from EXCLUDED on conflict.
func buildUpsert(table string, cols []string, keyCols, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	p := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteByte(')')
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(strings.Join(cols[:keyCols], ", "))
	b.WriteString(") DO UPDATE SET ")
	for i, col := range cols[keyCols:] {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col)
		b.WriteString(" = EXCLUDED.")
		b.WriteString(col)
	}
	return b.String()
}

// buildInsert renders a plain single-row INSERT with positional binds.
func buildInsert(table string, cols []string) string {
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "))
}
