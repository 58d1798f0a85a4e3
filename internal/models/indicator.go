package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Indicator codes form a closed set fixed at build time. Values are
// ratios (not percentages) except AVG_VOLUME_3M_24H, which is a volume.
const (
	PriceChange3M  = "PRICE_CHANGE_3M"
	PriceChange6M  = "PRICE_CHANGE_6M"
	PriceChange12M = "PRICE_CHANGE_12M"
	PriceChange24H = "PRICE_CHANGE_24H"

	VolumeChange1H  = "VOLUME_CHANGE_1H"
	VolumeChange3H  = "VOLUME_CHANGE_3H"
	VolumeChange8H  = "VOLUME_CHANGE_8H"
	VolumeChange24H = "VOLUME_CHANGE_24H"
	VolumeChange3M  = "VOLUME_CHANGE_3M"
	VolumeChange6M  = "VOLUME_CHANGE_6M"
	VolumeChange9M  = "VOLUME_CHANGE_9M"

	VolumeChangeRatio3M      = "VOLUME_CHANGE_RATIO_3M"
	AvgVolume3M24H           = "AVG_VOLUME_3M_24H"
	CapitalInflowIntensity3M = "CAPITAL_INFLOW_INTENSITY_3M"
)

// IndicatorScale is the maximum decimal scale written to indicator_data.
const IndicatorScale = 12

// IndicatorSample is one computed indicator value, keyed by
// (AlignedTime, AssetID, Name, Timeframe).
type IndicatorSample struct {
	AlignedTime int64           `db:"aligned_time"`
	AssetID     string          `db:"asset_id"`
	Name        string          `db:"indicator_name"`
	Timeframe   string          `db:"timeframe"`
	Value       decimal.Decimal `db:"value"`
	ComputedAt  time.Time       `db:"computed_at"`
}

// Timeframe returns the enumerated tag for an indicator code ("3m", "1h",
// "24h", ...). The mapping is part of the indicator key, so it must stay
// stable across releases.
func Timeframe(name string) string {
	switch name {
	case PriceChange3M, VolumeChange3M, VolumeChangeRatio3M, CapitalInflowIntensity3M:
		return "3m"
	case PriceChange6M, VolumeChange6M:
		return "6m"
	case VolumeChange9M:
		return "9m"
	case PriceChange12M:
		return "12m"
	case VolumeChange1H:
		return "1h"
	case VolumeChange3H:
		return "3h"
	case VolumeChange8H:
		return "8h"
	case PriceChange24H, VolumeChange24H, AvgVolume3M24H:
		return "24h"
	default:
		return ""
	}
}
