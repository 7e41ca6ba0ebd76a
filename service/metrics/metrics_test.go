package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("success", 2*time.Second)
	m.ObserveRun("success", time.Second)
	m.ObserveRun("failed", time.Second)
	m.DimensionScore.WithLabelValues("clientes", "validity", StageRaw).Set(68.75)
	m.ActiveAlerts.WithLabelValues("critical").Set(1)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.Runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Runs.WithLabelValues("failed")))
	assert.Equal(t, 68.75, promtest.ToFloat64(m.DimensionScore.WithLabelValues("clientes", "validity", StageRaw)))
	assert.Equal(t, 1, promtest.CollectAndCount(m.RunDuration))
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestWriteText(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.AggregateScore.WithLabelValues("clientes", StageCleaned).Set(100)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reg))
	assert.Contains(t, buf.String(), `dataquality_aggregate_score{dataset="clientes",stage="cleaned"} 100`)
	assert.Contains(t, buf.String(), "# TYPE dataquality_aggregate_score gauge")

	path := filepath.Join(t.TempDir(), "textfile", "dq.prom")
	require.NoError(t, WriteTextfile(path, reg))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(body))
}
