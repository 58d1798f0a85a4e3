package provider

import "github.com/shopspring/decimal"

// MarketAsset is one element of the provider's paged markets response.
// Numeric fields decode through decimal.NullDecimal so a JSON null stays
// null and precision survives; date fields stay raw strings here and are
// parsed during normalization (null on failure). Unknown fields in the
// payload are ignored.
type MarketAsset struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Image  string `json:"image"`

	CurrentPrice          decimal.NullDecimal `json:"current_price"`
	MarketCap             decimal.NullDecimal `json:"market_cap"`
	MarketCapRank         *int64              `json:"market_cap_rank"`
	FullyDilutedValuation decimal.NullDecimal `json:"fully_diluted_valuation"`
	TotalVolume           decimal.NullDecimal `json:"total_volume"`
	CirculatingSupply     decimal.NullDecimal `json:"circulating_supply"`
	TotalSupply           decimal.NullDecimal `json:"total_supply"`
	MaxSupply             decimal.NullDecimal `json:"max_supply"`

	High24h               decimal.NullDecimal `json:"high_24h"`
	Low24h                decimal.NullDecimal `json:"low_24h"`
	PriceChange24h        decimal.NullDecimal `json:"price_change_24h"`
	PriceChangePct24h     decimal.NullDecimal `json:"price_change_percentage_24h"`
	PriceChangePct7d      decimal.NullDecimal `json:"price_change_percentage_7d_in_currency"`
	PriceChangePct30d     decimal.NullDecimal `json:"price_change_percentage_30d_in_currency"`
	MarketCapChange24h    decimal.NullDecimal `json:"market_cap_change_24h"`
	MarketCapChangePct24h decimal.NullDecimal `json:"market_cap_change_percentage_24h"`

	ATH          decimal.NullDecimal `json:"ath"`
	ATHChangePct decimal.NullDecimal `json:"ath_change_percentage"`
	ATHDate      string              `json:"ath_date"`
	ATL          decimal.NullDecimal `json:"atl"`
	ATLChangePct decimal.NullDecimal `json:"atl_change_percentage"`
	ATLDate      string              `json:"atl_date"`

	LastUpdated string `json:"last_updated"`
}
