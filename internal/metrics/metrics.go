// Package metrics owns the process Prometheus registry. Components take
// *Registry by injection; nothing registers on the global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry bundles every instrument the pipeline exports.
type Registry struct {
	reg *prometheus.Registry

	TicksTotal       *prometheus.CounterVec // status: success|partial|failure|skipped
	PagesTotal       *prometheus.CounterVec // result: ok|failed
	RowsWritten      prometheus.Counter
	RowsSkipped      prometheus.Counter
	SubBatchFailures prometheus.Counter
	TickDuration     prometheus.Histogram
	LastAlignedMs    prometheus.Gauge

	IndicatorBuckets   *prometheus.CounterVec // status: success|failure
	IndicatorsWritten  prometheus.Counter
	AssetsSkipped      prometheus.Counter
	IndicatorDuration  prometheus.Histogram
	IndicatorLagBucket prometheus.Gauge

	EventsTotal     *prometheus.CounterVec // kind
	EventsDropped   prometheus.Counter
	WebhookFailures prometheus.Counter
}

// New builds a Registry with every instrument registered.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.TicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpulse_ticks_total",
		Help: "Ingest ticks by terminal status.",
	}, []string{"status"})
	r.PagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpulse_pages_total",
		Help: "Provider pages by result.",
	}, []string{"result"})
	r.RowsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpulse_rows_written_total",
		Help: "Snapshot rows committed.",
	})
	r.RowsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpulse_rows_skipped_total",
		Help: "Provider rows rejected during normalization.",
	})
	r.SubBatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpulse_subbatch_failures_total",
		Help: "Snapshot sub-batches that failed after retries.",
	})
	r.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coinpulse_tick_duration_seconds",
		Help:    "Wall time of one ingest tick.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 11),
	})
	r.LastAlignedMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coinpulse_last_aligned_time_ms",
		Help: "Aligned time of the most recent tick.",
	})

	r.IndicatorBuckets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpulse_indicator_buckets_total",
		Help: "Indicator bucket computations by status.",
	}, []string{"status"})
	r.IndicatorsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpulse_indicators_written_total",
		Help: "Indicator rows committed.",
	})
	r.AssetsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpulse_indicator_assets_skipped_total",
		Help: "Assets skipped during indicator computation.",
	})
	r.IndicatorDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coinpulse_indicator_duration_seconds",
		Help:    "Wall time of one indicator bucket computation.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 11),
	})
	r.IndicatorLagBucket = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coinpulse_indicator_lag_buckets",
		Help: "Buckets between the snapshot watermark and the last processed bucket.",
	})

	r.EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpulse_events_total",
		Help: "Events emitted by kind.",
	}, []string{"kind"})
	r.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpulse_events_dropped_total",
		Help: "Events dropped because the sink queue was full.",
	})
	r.WebhookFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpulse_webhook_failures_total",
		Help: "Webhook deliveries that failed after retry.",
	})

	r.reg.MustRegister(
		r.TicksTotal, r.PagesTotal, r.RowsWritten, r.RowsSkipped,
		r.SubBatchFailures, r.TickDuration, r.LastAlignedMs,
		r.IndicatorBuckets, r.IndicatorsWritten, r.AssetsSkipped,
		r.IndicatorDuration, r.IndicatorLagBucket,
		r.EventsTotal, r.EventsDropped, r.WebhookFailures,
	)
	return r
}

// Handler serves the Prometheus exposition format for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Snapshot gathers current values for the status endpoint: counters and
// gauges flattened to name{label=value} keys.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			out[flatName(mf, m)] = scalarValue(mf, m)
		}
	}
	return out, nil
}

func flatName(mf *dto.MetricFamily, m *dto.Metric) string {
	name := mf.GetName()
	for _, lp := range m.GetLabel() {
		name += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
	}
	return name
}

func scalarValue(mf *dto.MetricFamily, m *dto.Metric) float64 {
	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}
