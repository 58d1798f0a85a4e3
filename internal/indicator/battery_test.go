package indicator

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/coinpulse/internal/models"
)

const bucketStartMs = int64(1_700_000_100_000)

var computedAt = time.Date(2023, 11, 14, 22, 15, 0, 0, time.UTC)

// row builds a window row off minutes behind the target bucket. An empty
// volume string leaves total_volume null.
func row(asset string, off int, price, volume string) models.WindowRow {
	r := models.WindowRow{
		AssetID:     asset,
		AlignedTime: bucketStartMs - int64(off)*60_000,
		Price:       decimal.RequireFromString(price),
	}
	if volume != "" {
		r.TotalVolume = decimal.NewNullDecimal(decimal.RequireFromString(volume))
	}
	return r
}

// byName indexes one asset's samples by indicator code.
func byName(t *testing.T, samples []models.IndicatorSample, asset string) map[string]models.IndicatorSample {
	t.Helper()
	out := map[string]models.IndicatorSample{}
	for _, s := range samples {
		if s.AssetID != asset {
			continue
		}
		_, dup := out[s.Name]
		require.False(t, dup, "duplicate sample for %s/%s", asset, s.Name)
		out[s.Name] = s
	}
	return out
}

func wantValue(t *testing.T, got map[string]models.IndicatorSample, name, want string) {
	t.Helper()
	s, ok := got[name]
	require.True(t, ok, "missing %s", name)
	assert.True(t, decimal.RequireFromString(want).Equal(s.Value),
		"%s = %s, want %s", name, s.Value, want)
}

func TestComputeAssetFullBattery(t *testing.T) {
	rows := []models.WindowRow{
		row("btc", 0, "52000", "1200"),
		row("btc", 3, "51000", "1000"),
		row("btc", 6, "50000", "900"),
		row("btc", 1440, "48000", "800"),
	}

	samples, assets, skipped := computeBucket(bucketStartMs, rows, computedAt)
	require.Equal(t, 1, assets)
	require.Equal(t, 0, skipped)
	require.Len(t, samples, 9)

	got := byName(t, samples, "btc")
	wantValue(t, got, models.PriceChange3M, "0.019607843137")
	wantValue(t, got, models.PriceChange6M, "0.04")
	wantValue(t, got, models.PriceChange24H, "0.083333333333")
	wantValue(t, got, models.VolumeChange3M, "0.2")
	wantValue(t, got, models.VolumeChange6M, "0.333333333333")
	wantValue(t, got, models.VolumeChange24H, "0.5")
	wantValue(t, got, models.VolumeChangeRatio3M, "0.25")
	wantValue(t, got, models.AvgVolume3M24H, "975")
	wantValue(t, got, models.CapitalInflowIntensity3M, "23.529411764706")

	// Offsets 9, 12, 60, 180, 480 have no rows, so their indicators are
	// absent rather than zero.
	for _, name := range []string{
		models.PriceChange12M, models.VolumeChange9M,
		models.VolumeChange1H, models.VolumeChange3H, models.VolumeChange8H,
	} {
		_, ok := got[name]
		assert.False(t, ok, "%s should be absent", name)
	}

	for _, s := range samples {
		assert.Equal(t, bucketStartMs, s.AlignedTime)
		assert.Equal(t, models.Timeframe(s.Name), s.Timeframe)
		assert.Equal(t, computedAt, s.ComputedAt)
		assert.GreaterOrEqual(t, int(s.Value.Exponent()), -models.IndicatorScale)
	}
}

func TestComputeAssetMissingOffsetOmitsDependents(t *testing.T) {
	rows := []models.WindowRow{
		row("btc", 0, "52000", "1200"),
		row("btc", 6, "50000", "900"),
		row("btc", 1440, "48000", "800"),
	}

	samples, assets, skipped := computeBucket(bucketStartMs, rows, computedAt)
	require.Equal(t, 1, assets)
	require.Equal(t, 0, skipped)
	require.Len(t, samples, 5)

	got := byName(t, samples, "btc")
	for _, name := range []string{
		models.PriceChange3M, models.VolumeChange3M,
		models.VolumeChangeRatio3M, models.CapitalInflowIntensity3M,
	} {
		_, ok := got[name]
		assert.False(t, ok, "%s needs the 3m offset", name)
	}
	wantValue(t, got, models.PriceChange6M, "0.04")
	wantValue(t, got, models.PriceChange24H, "0.083333333333")
	wantValue(t, got, models.VolumeChange6M, "0.333333333333")
	wantValue(t, got, models.VolumeChange24H, "0.5")
	wantValue(t, got, models.AvgVolume3M24H, "966.666666666667")
}

func TestComputeAssetZeroDenominators(t *testing.T) {
	t.Run("zero 3m volume", func(t *testing.T) {
		rows := []models.WindowRow{
			row("btc", 0, "52000", "1200"),
			row("btc", 3, "51000", "0"),
			row("btc", 1440, "48000", "800"),
		}
		samples, _, _ := computeBucket(bucketStartMs, rows, computedAt)
		got := byName(t, samples, "btc")

		_, ok := got[models.VolumeChange3M]
		assert.False(t, ok, "division by a zero 3m volume")
		// Ratio divides by the 24h volume, which is fine here.
		wantValue(t, got, models.VolumeChangeRatio3M, "1.5")
	})

	t.Run("zero 24h volume", func(t *testing.T) {
		rows := []models.WindowRow{
			row("btc", 0, "52000", "1200"),
			row("btc", 3, "51000", "1000"),
			row("btc", 1440, "48000", "0"),
		}
		samples, _, _ := computeBucket(bucketStartMs, rows, computedAt)
		got := byName(t, samples, "btc")

		_, ok := got[models.VolumeChange24H]
		assert.False(t, ok, "division by a zero 24h volume")
		_, ok = got[models.VolumeChangeRatio3M]
		assert.False(t, ok, "ratio divides by the 24h volume")
		// The zero volume still counts into the average.
		wantValue(t, got, models.AvgVolume3M24H, "733.333333333333")
	})
}

func TestComputeAssetNullVolumeAtTarget(t *testing.T) {
	rows := []models.WindowRow{
		row("btc", 0, "52000", ""),
		row("btc", 3, "51000", "1000"),
		row("btc", 1440, "48000", "800"),
	}

	samples, assets, skipped := computeBucket(bucketStartMs, rows, computedAt)
	require.Equal(t, 1, assets)
	require.Equal(t, 0, skipped)

	got := byName(t, samples, "btc")
	wantValue(t, got, models.PriceChange3M, "0.019607843137")
	wantValue(t, got, models.PriceChange24H, "0.083333333333")
	// Every volume-anchored indicator needs the target bucket's volume.
	for _, name := range []string{
		models.VolumeChange3M, models.VolumeChange24H,
		models.VolumeChangeRatio3M, models.CapitalInflowIntensity3M,
	} {
		_, ok := got[name]
		assert.False(t, ok, "%s should be absent", name)
	}
	// The average covers whatever volumes are present.
	wantValue(t, got, models.AvgVolume3M24H, "900")
}

func TestComputeBucketSkipsAssetWithoutTargetRow(t *testing.T) {
	rows := []models.WindowRow{
		row("btc", 0, "52000", "1200"),
		row("btc", 3, "51000", "1000"),
		// eth only has history, nothing at the target bucket.
		row("eth", 3, "2500", "400"),
		row("eth", 1440, "2400", "350"),
	}

	samples, assets, skipped := computeBucket(bucketStartMs, rows, computedAt)
	assert.Equal(t, 1, assets)
	assert.Equal(t, 1, skipped)
	for _, s := range samples {
		assert.Equal(t, "btc", s.AssetID)
	}
}

func TestComputeBucketIgnoresMisalignedRows(t *testing.T) {
	future := row("btc", 0, "52000", "1200")
	future.AlignedTime = bucketStartMs + 180_000
	offGrid := row("btc", 3, "51000", "1000")
	offGrid.AlignedTime = bucketStartMs - 90_500

	rows := []models.WindowRow{
		row("btc", 0, "52000", "1200"),
		future,
		offGrid,
		row("btc", 6, "50000", "900"),
	}

	samples, assets, _ := computeBucket(bucketStartMs, rows, computedAt)
	require.Equal(t, 1, assets)

	got := byName(t, samples, "btc")
	_, ok := got[models.PriceChange3M]
	assert.False(t, ok, "off-grid row must not land on an offset")
	wantValue(t, got, models.PriceChange6M, "0.04")
}

func TestComputeBucketOrderIndependent(t *testing.T) {
	rows := []models.WindowRow{
		row("btc", 0, "52000", "1200"),
		row("btc", 3, "51000", "1000"),
		row("btc", 6, "50000", "900"),
		row("btc", 1440, "48000", "800"),
		row("eth", 0, "2600", "500"),
		row("eth", 3, "2500", "400"),
		row("eth", 60, "2450", "380"),
	}

	base, _, _ := computeBucket(bucketStartMs, rows, computedAt)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5; i++ {
		shuffled := make([]models.WindowRow, len(rows))
		copy(shuffled, rows)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got, _, _ := computeBucket(bucketStartMs, shuffled, computedAt)
		assert.ElementsMatch(t, base, got)
	}
}

func TestComputeBucketAssetsIndependent(t *testing.T) {
	btc := []models.WindowRow{
		row("btc", 0, "52000", "1200"),
		row("btc", 3, "51000", "1000"),
		row("btc", 1440, "48000", "800"),
	}
	eth := []models.WindowRow{
		row("eth", 0, "2600", "500"),
		row("eth", 3, "2500", "400"),
	}

	both, _, _ := computeBucket(bucketStartMs, append(append([]models.WindowRow{}, btc...), eth...), computedAt)
	alone, _, _ := computeBucket(bucketStartMs, btc, computedAt)

	var btcFromBoth []models.IndicatorSample
	for _, s := range both {
		if s.AssetID == "btc" {
			btcFromBoth = append(btcFromBoth, s)
		}
	}
	sortSamples(btcFromBoth)
	sortSamples(alone)
	assert.Equal(t, alone, btcFromBoth)
}

func sortSamples(s []models.IndicatorSample) {
	sort.Slice(s, func(a, b int) bool { return s[a].Name < s[b].Name })
}

func TestChangeRatio(t *testing.T) {
	_, ok := changeRatio(decimal.NewFromInt(5), decimal.Zero)
	assert.False(t, ok)

	r, ok := changeRatio(decimal.NewFromInt(110), decimal.NewFromInt(100))
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("0.1").Equal(r))

	r, ok = changeRatio(decimal.NewFromInt(90), decimal.NewFromInt(100))
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("-0.1").Equal(r))
}

func TestTimeframeTags(t *testing.T) {
	want := map[string]string{
		models.PriceChange3M:            "3m",
		models.PriceChange6M:            "6m",
		models.PriceChange12M:           "12m",
		models.PriceChange24H:           "24h",
		models.VolumeChange3M:           "3m",
		models.VolumeChange6M:           "6m",
		models.VolumeChange9M:           "9m",
		models.VolumeChange1H:           "1h",
		models.VolumeChange3H:           "3h",
		models.VolumeChange8H:           "8h",
		models.VolumeChange24H:          "24h",
		models.VolumeChangeRatio3M:      "3m",
		models.AvgVolume3M24H:           "24h",
		models.CapitalInflowIntensity3M: "3m",
	}
	for name, tf := range want {
		assert.Equal(t, tf, models.Timeframe(name), name)
	}
}
