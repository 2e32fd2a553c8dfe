package tracking

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryTracker keeps runs in memory. It is safe for concurrent use.
type MemoryTracker struct {
	mu          sync.Mutex
	experiments map[string]string // name → id
	runs        map[string]*RunRecord
	artifacts   map[string]map[string][]byte
	now         func() time.Time
}

// NewMemoryTracker creates an empty MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		experiments: make(map[string]string),
		runs:        make(map[string]*RunRecord),
		artifacts:   make(map[string]map[string][]byte),
		now:         time.Now,
	}
}

// StartRun implements Tracker.
func (m *MemoryTracker) StartRun(_ context.Context, experiment string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expID, ok := m.experiments[experiment]
	if !ok {
		expID = strconv.Itoa(len(m.experiments) + 1)
		m.experiments[experiment] = expID
	}
	id := newRunID()
	m.runs[id] = newRunRecord(id, expID, experiment, m.now())
	m.artifacts[id] = make(map[string][]byte)
	return id, nil
}

func (m *MemoryTracker) active(runID string) (*RunRecord, error) {
	r, ok := m.runs[runID]
	if !ok {
		return nil, unknownRun(runID)
	}
	if err := r.requireActive(); err != nil {
		return nil, err
	}
	return r, nil
}

// LogParams implements Tracker.
func (m *MemoryTracker) LogParams(_ context.Context, runID string, params map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.active(runID)
	if err != nil {
		return err
	}
	return r.mergeParams(params)
}

// LogMetrics implements Tracker.
func (m *MemoryTracker) LogMetrics(_ context.Context, runID string, metrics map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.active(runID)
	if err != nil {
		return err
	}
	r.appendMetrics(metrics, m.now())
	return nil
}

// LogArtifact implements Tracker.
func (m *MemoryTracker) LogArtifact(_ context.Context, runID, name string, data []byte) error {
	clean, err := cleanArtifactName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.active(runID)
	if err != nil {
		return err
	}
	m.artifacts[runID][clean] = append([]byte(nil), data...)
	r.addArtifact(clean)
	return nil
}

// EndRun implements Tracker.
func (m *MemoryTracker) EndRun(_ context.Context, runID string, status RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return unknownRun(runID)
	}
	return r.end(status, m.now())
}

// Run returns a copy of the run record.
func (m *MemoryTracker) Run(runID string) (*RunRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, false
	}
	cp := *r
	cp.Params = make(map[string]string, len(r.Params))
	for k, v := range r.Params {
		cp.Params[k] = v
	}
	cp.Metrics = append([]Metric(nil), r.Metrics...)
	cp.Artifacts = append([]string(nil), r.Artifacts...)
	return &cp, true
}

// Runs returns the ids of all runs.
func (m *MemoryTracker) Runs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.runs)
}

// Artifact returns the stored artifact bytes.
func (m *MemoryTracker) Artifact(runID, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.artifacts[runID][name]
	return data, ok
}

// Close implements io.Closer.
func (m *MemoryTracker) Close() error { return nil }
