package ingest

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/coinpulse/coinpulse/internal/models"
	"github.com/coinpulse/coinpulse/internal/provider"
)

var errMissingAssetID = errors.New("missing asset id")

// normalizeAsset maps one provider row to a snapshot keyed by the tick's
// aligned time. The asset id is the only strict field: absent or wider
// than the column it rejects the row. Everything else degrades to null
// (unparseable dates) or is truncated to its column width.
func normalizeAsset(a *provider.MarketAsset, alignedMs, rawMs int64) (models.Snapshot, error) {
	id := a.ID
	if id == "" {
		return models.Snapshot{}, errMissingAssetID
	}
	if len(id) > models.AssetIDMaxLen {
		return models.Snapshot{}, fmt.Errorf("asset id %q exceeds %d bytes", id[:models.AssetIDMaxLen], models.AssetIDMaxLen)
	}

	return models.Snapshot{
		AlignedTime: alignedMs,
		AssetID:     id,
		RawTime:     rawMs,

		Symbol:      nullString(truncateRunes(a.Symbol, models.SymbolMaxLen)),
		DisplayName: nullString(truncateRunes(a.Name, models.DisplayNameMaxLen)),
		IconURL:     nullString(truncateRunes(a.Image, models.IconURLMaxLen)),

		Price:                 a.CurrentPrice,
		MarketCap:             a.MarketCap,
		MarketCapRank:         nullInt64(a.MarketCapRank),
		FullyDilutedValuation: a.FullyDilutedValuation,
		TotalVolume:           a.TotalVolume,
		CirculatingSupply:     a.CirculatingSupply,
		TotalSupply:           a.TotalSupply,
		MaxSupply:             a.MaxSupply,

		High24h:               a.High24h,
		Low24h:                a.Low24h,
		PriceChange24h:        a.PriceChange24h,
		PriceChangePct24h:     a.PriceChangePct24h,
		PriceChangePct7d:      a.PriceChangePct7d,
		PriceChangePct30d:     a.PriceChangePct30d,
		MarketCapChange24h:    a.MarketCapChange24h,
		MarketCapChangePct24h: a.MarketCapChangePct24h,

		ATH:          a.ATH,
		ATHChangePct: a.ATHChangePct,
		ATHDate:      nullTime(a.ATHDate),
		ATL:          a.ATL,
		ATLChangePct: a.ATLChangePct,
		ATLDate:      nullTime(a.ATLDate),

		LastUpdated: nullTime(a.LastUpdated),
	}, nil
}

// truncateRunes clips s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// nullTime parses an RFC3339 timestamp, tolerating fractional seconds.
// Empty or malformed values become null rather than failing the row.
func nullTime(s string) sql.NullTime {
	if s == "" {
		return sql.NullTime{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
