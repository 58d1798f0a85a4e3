// Package indicator computes the fixed per-asset indicator battery for
// each snapshot bucket, polling the snapshot watermark and writing
// results through the gateway.
package indicator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpulse/coinpulse/internal/models"
)

// Offsets are the window positions, in minutes behind the target bucket,
// that the battery reads. Offset 0 is the target bucket itself.
var Offsets = []int{0, 3, 6, 9, 12, 60, 180, 480, 1440}

// window holds one asset's projected rows keyed by offset minutes.
type window map[int]models.WindowRow

func (w window) price(off int) (decimal.Decimal, bool) {
	r, ok := w[off]
	if !ok {
		return decimal.Decimal{}, false
	}
	return r.Price, true
}

func (w window) volume(off int) (decimal.Decimal, bool) {
	r, ok := w[off]
	if !ok || !r.TotalVolume.Valid {
		return decimal.Decimal{}, false
	}
	return r.TotalVolume.Decimal, true
}

// presentVolumes collects the non-null volumes across the window in
// offset order.
func (w window) presentVolumes() []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(Offsets))
	for _, off := range Offsets {
		if v, ok := w.volume(off); ok {
			out = append(out, v)
		}
	}
	return out
}

// groupWindow indexes a history read by asset and offset. Row order is
// irrelevant; each asset's outputs depend only on its own window.
func groupWindow(alignedMs int64, rows []models.WindowRow) map[string]window {
	out := make(map[string]window)
	for _, r := range rows {
		diff := alignedMs - r.AlignedTime
		if diff < 0 || diff%60_000 != 0 {
			continue
		}
		off := int(diff / 60_000)
		w := out[r.AssetID]
		if w == nil {
			w = window{}
			out[r.AssetID] = w
		}
		w[off] = r
	}
	return out
}

// computeBucket builds the sample set for one bucket. Assets that
// produce no sample at all are counted as skipped.
func computeBucket(alignedMs int64, rows []models.WindowRow, computedAt time.Time) (samples []models.IndicatorSample, assets, skipped int) {
	for id, w := range groupWindow(alignedMs, rows) {
		s := computeAsset(id, alignedMs, w, computedAt)
		if len(s) == 0 {
			skipped++
			continue
		}
		assets++
		samples = append(samples, s...)
	}
	return samples, assets, skipped
}

var priceChanges = []struct {
	name string
	off  int
}{
	{models.PriceChange3M, 3},
	{models.PriceChange6M, 6},
	{models.PriceChange12M, 12},
	{models.PriceChange24H, 1440},
}

var volumeChanges = []struct {
	name string
	off  int
}{
	{models.VolumeChange3M, 3},
	{models.VolumeChange6M, 6},
	{models.VolumeChange9M, 9},
	{models.VolumeChange1H, 60},
	{models.VolumeChange3H, 180},
	{models.VolumeChange8H, 480},
	{models.VolumeChange24H, 1440},
}

// computeAsset evaluates the battery for one asset. A missing or null
// input, or a zero denominator, omits that indicator; it is never
// written as null or zero. Assets without a row at offset 0 get nothing,
// keeping every indicator row backed by a snapshot row at the same
// bucket.
func computeAsset(assetID string, alignedMs int64, w window, computedAt time.Time) []models.IndicatorSample {
	if _, ok := w[0]; !ok {
		return nil
	}

	var out []models.IndicatorSample
	add := func(name string, v decimal.Decimal) {
		out = append(out, models.IndicatorSample{
			AlignedTime: alignedMs,
			AssetID:     assetID,
			Name:        name,
			Timeframe:   models.Timeframe(name),
			Value:       v.Round(models.IndicatorScale),
			ComputedAt:  computedAt,
		})
	}

	p0, hasP0 := w.price(0)
	v0, hasV0 := w.volume(0)

	if hasP0 {
		for _, pc := range priceChanges {
			if pN, ok := w.price(pc.off); ok {
				if r, ok := changeRatio(p0, pN); ok {
					add(pc.name, r)
				}
			}
		}
	}

	if hasV0 {
		for _, vc := range volumeChanges {
			if vN, ok := w.volume(vc.off); ok {
				if r, ok := changeRatio(v0, vN); ok {
					add(vc.name, r)
				}
			}
		}

		if v3, ok := w.volume(3); ok {
			if v1440, ok := w.volume(1440); ok && !v1440.IsZero() {
				add(models.VolumeChangeRatio3M, v0.Sub(v3).Div(v1440))
			}
		}
	}

	if vols := w.presentVolumes(); len(vols) > 0 {
		sum := decimal.Zero
		for _, v := range vols {
			sum = sum.Add(v)
		}
		add(models.AvgVolume3M24H, sum.Div(decimal.NewFromInt(int64(len(vols)))))
	}

	if hasP0 && hasV0 {
		if p3, ok := w.price(3); ok {
			if r, ok := changeRatio(p0, p3); ok {
				add(models.CapitalInflowIntensity3M, r.Mul(v0))
			}
		}
	}

	return out
}

// changeRatio is (now - then) / then, undefined for then == 0.
func changeRatio(now, then decimal.Decimal) (decimal.Decimal, bool) {
	if then.IsZero() {
		return decimal.Decimal{}, false
	}
	return now.Sub(then).Div(then), true
}
