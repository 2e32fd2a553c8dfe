// Package monitoring records system metrics of training runs and provides the
// data-integrity and model-performance checks used by the smoke tests.
//
// Monitor keeps its gauges in its own Prometheus registry. After training,
// LogSystemMetrics refreshes them from the Go runtime, forwards memory_usage and
// training_time to the tracking run and, when configured, pushes the registry to
// a Pushgateway or writes it as a node-exporter textfile.
package monitoring

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/pkg/log"
	"github.com/YuminosukeSato/mlops/tracking"
)

// SystemMetrics is one snapshot of the process.
type SystemMetrics struct {
	MemoryUsage  uint64        // bytes allocated and still in use
	HeapObjects  uint64        // live heap objects
	Goroutines   int           // goroutines at snapshot time
	NumGC        uint32        // completed GC cycles
	TrainingTime time.Duration // last value passed to RecordTrainingTime
}

// Monitor owns the Prometheus gauges of one training job.
type Monitor struct {
	name     string
	registry *prometheus.Registry
	logger   log.Logger

	pushURL  string
	textfile string

	memoryUsage  prometheus.Gauge
	heapObjects  prometheus.Gauge
	goroutines   prometheus.Gauge
	gcCycles     prometheus.Gauge
	trainingTime prometheus.Gauge
	runs         *prometheus.CounterVec

	mu       sync.Mutex
	training time.Duration
	readMem  func(*runtime.MemStats)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRegistry makes the monitor register its collectors in reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Monitor) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// WithPushgateway pushes the registry to url after every LogSystemMetrics call.
func WithPushgateway(url string) Option {
	return func(m *Monitor) { m.pushURL = url }
}

// WithTextfile writes the registry to path after every LogSystemMetrics call.
func WithTextfile(path string) Option {
	return func(m *Monitor) { m.textfile = path }
}

// WithLogger sets the monitor's logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor creates a monitor whose metrics use name as namespace.
func NewMonitor(name string, opts ...Option) *Monitor {
	m := &Monitor{
		name:     name,
		registry: prometheus.NewRegistry(),
		logger:   log.NopLogger{},
		readMem:  runtime.ReadMemStats,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(log.ComponentKey, "monitoring", "monitor", name)

	ns := metricNamespace(name)
	factory := promauto.With(m.registry)
	m.memoryUsage = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "memory_usage_bytes",
		Help:      "Heap bytes allocated and still in use",
	})
	m.heapObjects = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "heap_objects",
		Help:      "Number of live heap objects",
	})
	m.goroutines = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "goroutines",
		Help:      "Number of goroutines",
	})
	m.gcCycles = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "gc_cycles",
		Help:      "Completed garbage collection cycles",
	})
	m.trainingTime = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "training_time_seconds",
		Help:      "Wall time of the last model fit",
	})
	m.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "runs_total",
		Help:      "Training runs by terminal status",
	}, []string{"status"})
	return m
}

// metricNamespace maps name onto the Prometheus metric name alphabet.
func metricNamespace(name string) string {
	if name == "" {
		return "ml"
	}
	b := []byte(name)
	for i, c := range b {
		ok := c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || (i > 0 && c >= '0' && c <= '9')
		if !ok {
			b[i] = '_'
		}
	}
	return strings.ToLower(string(b))
}

// Name returns the monitor's name.
func (m *Monitor) Name() string { return m.name }

// Registry returns the registry holding the monitor's collectors.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// RecordTrainingTime stores the duration of the last fit.
func (m *Monitor) RecordTrainingTime(d time.Duration) {
	m.mu.Lock()
	m.training = d
	m.mu.Unlock()
	m.trainingTime.Set(d.Seconds())
}

// RecordRun counts a finished run under its terminal status.
func (m *Monitor) RecordRun(status tracking.RunStatus) {
	m.runs.WithLabelValues(string(status)).Inc()
}

// Snapshot reads the current runtime statistics into the gauges and returns them.
func (m *Monitor) Snapshot() SystemMetrics {
	var ms runtime.MemStats
	m.readMem(&ms)

	m.mu.Lock()
	s := SystemMetrics{
		MemoryUsage:  ms.Alloc,
		HeapObjects:  ms.HeapObjects,
		Goroutines:   runtime.NumGoroutine(),
		NumGC:        ms.NumGC,
		TrainingTime: m.training,
	}
	m.mu.Unlock()

	m.memoryUsage.Set(float64(s.MemoryUsage))
	m.heapObjects.Set(float64(s.HeapObjects))
	m.goroutines.Set(float64(s.Goroutines))
	m.gcCycles.Set(float64(s.NumGC))
	return s
}

// LogSystemMetrics takes a snapshot, logs memory_usage and training_time to the
// run and exports the registry to the configured sinks.
func (m *Monitor) LogSystemMetrics(ctx context.Context, t tracking.Tracker, runID string) error {
	s := m.Snapshot()
	m.logger.Info("System metrics",
		log.MemoryUsageKey, s.MemoryUsage,
		"heap_objects", s.HeapObjects,
		"goroutines", s.Goroutines,
		log.DurationMsKey, s.TrainingTime.Milliseconds(),
	)

	if t != nil && runID != "" {
		err := t.LogMetrics(ctx, runID, map[string]float64{
			"memory_usage":  float64(s.MemoryUsage),
			"training_time": s.TrainingTime.Seconds(),
		})
		if err != nil {
			return err
		}
	}
	return m.Export(ctx)
}

// Export pushes the registry to the Pushgateway and writes the textfile, when configured.
func (m *Monitor) Export(ctx context.Context) error {
	if m.pushURL != "" {
		err := push.New(m.pushURL, metricNamespace(m.name)).
			Gatherer(m.registry).
			PushContext(ctx)
		if err != nil {
			return errors.NewCollaboratorError("pushgateway", "push", err)
		}
		m.logger.Debug("Metrics pushed", "url", m.pushURL)
	}
	if m.textfile != "" {
		if err := prometheus.WriteToTextfile(m.textfile, m.registry); err != nil {
			return errors.Wrapf(err, "write metrics textfile %s", m.textfile)
		}
		m.logger.Debug("Metrics textfile written", log.PathKey, m.textfile)
	}
	return nil
}
