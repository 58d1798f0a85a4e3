package models

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// AssetIDMaxLen is the declared column width of coin_data.asset_id.
// Rows whose provider id exceeds it are rejected during normalization.
const AssetIDMaxLen = 64

// Declared widths of the other coin_data string columns. Overlong values
// are truncated, not rejected; only the key column is strict.
const (
	SymbolMaxLen      = 64
	DisplayNameMaxLen = 256
	IconURLMaxLen     = 512
)

// Snapshot is one normalized market observation for a single asset,
// keyed by (AlignedTime, AssetID). AlignedTime is snapped to the bucket
// boundary; RawTime preserves the wall-clock millisecond the tick began.
type Snapshot struct {
	AlignedTime int64  `db:"aligned_time"`
	AssetID     string `db:"asset_id"`

	Symbol      sql.NullString `db:"symbol"`
	DisplayName sql.NullString `db:"display_name"`
	IconURL     sql.NullString `db:"icon_url"`

	Price                 decimal.NullDecimal `db:"price"`
	MarketCap             decimal.NullDecimal `db:"market_cap"`
	MarketCapRank         sql.NullInt64       `db:"market_cap_rank"`
	FullyDilutedValuation decimal.NullDecimal `db:"fully_diluted_valuation"`
	TotalVolume           decimal.NullDecimal `db:"total_volume"`
	CirculatingSupply     decimal.NullDecimal `db:"circulating_supply"`
	TotalSupply           decimal.NullDecimal `db:"total_supply"`
	MaxSupply             decimal.NullDecimal `db:"max_supply"`

	High24h               decimal.NullDecimal `db:"high_24h"`
	Low24h                decimal.NullDecimal `db:"low_24h"`
	PriceChange24h        decimal.NullDecimal `db:"price_change_24h"`
	PriceChangePct24h     decimal.NullDecimal `db:"price_change_pct_24h"`
	PriceChangePct7d      decimal.NullDecimal `db:"price_change_pct_7d"`
	PriceChangePct30d     decimal.NullDecimal `db:"price_change_pct_30d"`
	MarketCapChange24h    decimal.NullDecimal `db:"market_cap_change_24h"`
	MarketCapChangePct24h decimal.NullDecimal `db:"market_cap_change_pct_24h"`

	ATH          decimal.NullDecimal `db:"ath"`
	ATHChangePct decimal.NullDecimal `db:"ath_change_pct"`
	ATHDate      sql.NullTime        `db:"ath_date"`
	ATL          decimal.NullDecimal `db:"atl"`
	ATLChangePct decimal.NullDecimal `db:"atl_change_pct"`
	ATLDate      sql.NullTime        `db:"atl_date"`

	LastUpdated sql.NullTime `db:"last_updated"`
	RawTime     int64        `db:"raw_time"`
}

// WindowRow is the projection returned by history-window reads: the
// quantities indicator computation needs, for one asset at one bucket.
// Price is non-null by construction (the window query filters price > 0).
type WindowRow struct {
	AssetID     string              `db:"asset_id"`
	AlignedTime int64               `db:"aligned_time"`
	Price       decimal.Decimal     `db:"price"`
	TotalVolume decimal.NullDecimal `db:"total_volume"`
}
