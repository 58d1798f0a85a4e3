package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/coinpulse/internal/clock"
	"github.com/coinpulse/coinpulse/internal/indicator"
	"github.com/coinpulse/coinpulse/internal/ingest"
	"github.com/coinpulse/coinpulse/internal/metrics"
	"github.com/coinpulse/coinpulse/internal/models"
	"github.com/coinpulse/coinpulse/internal/net/ratelimit"
)

const opsStartMs = int64(1_700_000_100_000)

type fakeProber struct {
	probeErr error
	wm       int64
	hasWm    bool
}

func (f *fakeProber) Probe(context.Context) error { return f.probeErr }

func (f *fakeProber) LatestBucket(context.Context) (int64, bool, error) {
	return f.wm, f.hasWm, nil
}

func newTestServer(v *clock.Virtual, db Prober, met *metrics.Registry, ing func() ingest.Status, ind func() indicator.Status, rl func() ratelimit.Stats) *Server {
	if met == nil {
		met = metrics.New()
	}
	return New(Options{
		ListenAddr: "127.0.0.1:0",
		Info:       Info{Service: "coinpulse", Version: "1.2.3", RunID: "run-abc"},
		Clock:      v,
		DB:         db,
		Metrics:    met,
		Ingest:     ing,
		Indicator:  ind,
		RateLimit:  rl,
		Log:        zerolog.Nop(),
	})
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthzReportsUptime(t *testing.T) {
	v := clock.NewVirtual(time.UnixMilli(opsStartMs))
	s := newTestServer(v, &fakeProber{}, nil, nil, nil, nil)
	v.Advance(90 * time.Second)

	rr := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body struct {
		Status  string  `json:"status"`
		UptimeS float64 `json:"uptime_s"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, float64(90), body.UptimeS)
}

func TestStatusAggregatesComponents(t *testing.T) {
	v := clock.NewVirtual(time.UnixMilli(opsStartMs))
	db := &fakeProber{wm: opsStartMs - 300_000, hasWm: true}
	met := metrics.New()
	met.RowsWritten.Add(42)

	ingStatus := ingest.Status{
		State:         ingest.StateIdle,
		TicksRun:      7,
		LastAlignedMs: opsStartMs - 300_000,
		LastOutcome:   models.TickSuccess,
		LastRows:      250,
	}
	indStatus := indicator.Status{
		LastProcessedMs: opsStartMs - 480_000,
		WatermarkMs:     opsStartMs - 300_000,
		LagBuckets:      1,
		BucketsDone:     12,
		Polls:           400,
	}
	rlStats := ratelimit.Stats{RPS: 2, Tokens: 1}
	s := newTestServer(v, db, met,
		func() ingest.Status { return ingStatus },
		func() indicator.Status { return indStatus },
		func() ratelimit.Stats { return rlStats },
	)

	rr := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "coinpulse", resp.Service)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "run-abc", resp.RunID)

	require.NotNil(t, resp.Ingest)
	assert.Equal(t, ingStatus, *resp.Ingest)
	require.NotNil(t, resp.Indicator)
	assert.Equal(t, indStatus, *resp.Indicator)
	require.NotNil(t, resp.RateLimit)
	assert.Equal(t, rlStats, *resp.RateLimit)

	assert.True(t, resp.DB.OK)
	assert.Equal(t, opsStartMs-300_000, resp.DB.WatermarkMs)
	assert.Equal(t, float64(300), resp.DB.DataAgeS)

	assert.Equal(t, float64(42), resp.Counters["coinpulse_rows_written_total"])
}

func TestStatusReportsDegradedDB(t *testing.T) {
	v := clock.NewVirtual(time.UnixMilli(opsStartMs))
	db := &fakeProber{probeErr: errors.New("connection refused")}
	s := newTestServer(v, db, nil, nil, nil, nil)

	rr := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rr.Code, "a degraded DB must not hide the status page")

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.DB.OK)
	assert.Contains(t, resp.DB.Error, "connection refused")
	assert.Zero(t, resp.DB.WatermarkMs)
}

func TestStatusOmitsAbsentLoops(t *testing.T) {
	v := clock.NewVirtual(time.UnixMilli(opsStartMs))
	s := newTestServer(v, &fakeProber{}, nil, nil, nil, nil)

	rr := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rr.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	_, hasIngest := raw["ingest"]
	_, hasIndicator := raw["indicator"]
	_, hasRateLimit := raw["rate_limit"]
	assert.False(t, hasIngest)
	assert.False(t, hasIndicator)
	assert.False(t, hasRateLimit)
}

func TestMetricsExposition(t *testing.T) {
	v := clock.NewVirtual(time.UnixMilli(opsStartMs))
	met := metrics.New()
	met.RowsWritten.Add(3)
	s := newTestServer(v, &fakeProber{}, met, nil, nil, nil)

	rr := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "coinpulse_rows_written_total 3")
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	v := clock.NewVirtual(time.UnixMilli(opsStartMs))
	s := newTestServer(v, &fakeProber{}, nil, nil, nil, nil)

	rr := get(t, s, "/nope")
	require.Equal(t, http.StatusNotFound, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "not found", body["error"])
}

func TestStatusRejectsWrites(t *testing.T) {
	v := clock.NewVirtual(time.UnixMilli(opsStartMs))
	s := newTestServer(v, &fakeProber{}, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
