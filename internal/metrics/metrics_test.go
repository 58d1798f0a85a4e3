package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotFlattensLabels(t *testing.T) {
	r := New()

	r.TicksTotal.WithLabelValues("success").Inc()
	r.TicksTotal.WithLabelValues("success").Inc()
	r.TicksTotal.WithLabelValues("partial").Inc()
	r.RowsWritten.Add(350)
	r.LastAlignedMs.Set(1_699_999_920_000)
	r.TickDuration.Observe(1.2)

	snap, err := r.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 2.0, snap["coinpulse_ticks_total{status=success}"])
	assert.Equal(t, 1.0, snap["coinpulse_ticks_total{status=partial}"])
	assert.Equal(t, 350.0, snap["coinpulse_rows_written_total"])
	assert.Equal(t, 1_699_999_920_000.0, snap["coinpulse_last_aligned_time_ms"])
	assert.Equal(t, 1.0, snap["coinpulse_tick_duration_seconds"], "histograms expose their sample count")
}

func TestHandlerServesExposition(t *testing.T) {
	r := New()
	r.PagesTotal.WithLabelValues("ok").Inc()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	buf := make([]byte, 1<<16)
	n, _ := resp.Body.Read(buf)
	assert.Contains(t, string(buf[:n]), "coinpulse_pages_total")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := New()
	b := New()
	a.RowsWritten.Add(5)

	snapB, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 0.0, snapB["coinpulse_rows_written_total"])
}
