package monitoring

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/tracking"
)

func fakeMemStats(ms *runtime.MemStats) {
	ms.Alloc = 4096
	ms.HeapObjects = 12
	ms.NumGC = 3
}

func TestMonitor_Snapshot(t *testing.T) {
	m := NewMonitor("ml_training")
	m.readMem = fakeMemStats
	m.RecordTrainingTime(1500 * time.Millisecond)

	s := m.Snapshot()
	assert.Equal(t, uint64(4096), s.MemoryUsage)
	assert.Equal(t, uint64(12), s.HeapObjects)
	assert.Equal(t, uint32(3), s.NumGC)
	assert.Positive(t, s.Goroutines)
	assert.Equal(t, 1500*time.Millisecond, s.TrainingTime)

	assert.Equal(t, 4096.0, testutil.ToFloat64(m.memoryUsage))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.heapObjects))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.gcCycles))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.trainingTime))
}

func TestMonitor_LogSystemMetrics(t *testing.T) {
	m := NewMonitor("ml_training")
	m.readMem = fakeMemStats
	m.RecordTrainingTime(2 * time.Second)

	tr := tracking.NewMemoryTracker()
	ctx := context.Background()
	runID, err := tr.StartRun(ctx, "exp")
	require.NoError(t, err)

	require.NoError(t, m.LogSystemMetrics(ctx, tr, runID))

	r, ok := tr.Run(runID)
	require.True(t, ok)
	mem, ok := r.LatestMetric("memory_usage")
	require.True(t, ok)
	assert.Equal(t, 4096.0, mem)
	tt, ok := r.LatestMetric("training_time")
	require.True(t, ok)
	assert.Equal(t, 2.0, tt)
}

func TestMonitor_LogSystemMetrics_EndedRun(t *testing.T) {
	m := NewMonitor("ml_training")
	tr := tracking.NewMemoryTracker()
	ctx := context.Background()
	runID, _ := tr.StartRun(ctx, "exp")
	require.NoError(t, tr.EndRun(ctx, runID, tracking.StatusFinished))

	err := m.LogSystemMetrics(ctx, tr, runID)
	assert.True(t, errors.Is(err, errors.ErrRunNotActive))
}

func TestMonitor_Textfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training.prom")
	m := NewMonitor("ml-training", WithTextfile(path))
	m.readMem = fakeMemStats
	m.RecordRun(tracking.StatusFinished)

	require.NoError(t, m.LogSystemMetrics(context.Background(), nil, ""))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "ml_training_memory_usage_bytes 4096")
	assert.Contains(t, text, `ml_training_runs_total{status="FINISHED"} 1`)
}

func TestMonitor_Pushgateway(t *testing.T) {
	var (
		mu     sync.Mutex
		path   string
		pushed string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		pushed = string(body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor("ml_training", WithPushgateway(srv.URL))
	require.NoError(t, m.Export(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/metrics/job/ml_training", path)
	assert.NotEmpty(t, pushed)
}

func TestMonitor_PushgatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor("ml_training", WithPushgateway(url))
	err := m.Export(context.Background())
	var collab *errors.CollaboratorError
	require.True(t, errors.As(err, &collab))
	assert.Equal(t, "pushgateway", collab.Collaborator)
}

func TestMonitor_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitor("job", WithRegistry(reg))
	assert.Same(t, reg, m.Registry())

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, strings.Join(names, ","), "job_goroutines")
}

func TestMetricNamespace(t *testing.T) {
	assert.Equal(t, "ml_training", metricNamespace("ml_training"))
	assert.Equal(t, "ml_training", metricNamespace("ML-Training"))
	assert.Equal(t, "_job", metricNamespace("1job"))
	assert.Equal(t, "ml", metricNamespace(""))
}
