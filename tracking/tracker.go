// Package tracking records training runs: parameters, metric histories and artifacts.
//
// Three stores implement Tracker:
//
//   - MemoryTracker keeps runs in process memory (tests, dry runs).
//   - LocalStore persists runs in a bbolt database with artifact files next to it.
//   - MLflowClient talks to an MLflow tracking server over its REST API.
//
// Every store accepts params, metrics and artifacts only for a run that exists and
// is RUNNING; anything else fails with errors.ErrRunNotActive.
package tracking

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
	StatusKilled   RunStatus = "KILLED"
)

// Terminal reports whether s ends a run.
func (s RunStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusKilled
}

// Tracker is the experiment tracking collaborator of the training pipeline.
type Tracker interface {
	// StartRun creates a RUNNING run in experiment, creating the experiment when needed.
	StartRun(ctx context.Context, experiment string) (runID string, err error)
	// LogParams records string parameters. A key may be logged again only with the same value.
	LogParams(ctx context.Context, runID string, params map[string]string) error
	// LogMetrics appends one value per key to the run's metric history.
	LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error
	// LogArtifact stores data under name in the run's artifact directory.
	LogArtifact(ctx context.Context, runID, name string, data []byte) error
	// EndRun moves the run to a terminal status.
	EndRun(ctx context.Context, runID string, status RunStatus) error
}

// Store is a Tracker holding resources that must be released.
type Store interface {
	Tracker
	io.Closer
}

// Metric is one entry of a metric history.
type Metric struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Step      int64     `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

// RunRecord is the stored state of a run.
type RunRecord struct {
	ID           string            `json:"run_id"`
	ExperimentID string            `json:"experiment_id"`
	Experiment   string            `json:"experiment"`
	Status       RunStatus         `json:"status"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time,omitempty"`
	Params       map[string]string `json:"params"`
	Metrics      []Metric          `json:"metrics"`
	Artifacts    []string          `json:"artifacts"`
}

// LatestMetric returns the last logged value of key.
func (r *RunRecord) LatestMetric(key string) (float64, bool) {
	for i := len(r.Metrics) - 1; i >= 0; i-- {
		if r.Metrics[i].Key == key {
			return r.Metrics[i].Value, true
		}
	}
	return 0, false
}

// History returns every logged value of key in order.
func (r *RunRecord) History(key string) []float64 {
	var out []float64
	for _, m := range r.Metrics {
		if m.Key == key {
			out = append(out, m.Value)
		}
	}
	return out
}

func newRunRecord(id, experimentID, experiment string, now time.Time) *RunRecord {
	return &RunRecord{
		ID:           id,
		ExperimentID: experimentID,
		Experiment:   experiment,
		Status:       StatusRunning,
		StartTime:    now,
		Params:       make(map[string]string),
	}
}

func (r *RunRecord) requireActive() error {
	if r.Status != StatusRunning {
		return errors.Wrapf(errors.ErrRunNotActive, "run %s is %s", r.ID, r.Status)
	}
	return nil
}

func (r *RunRecord) mergeParams(params map[string]string) error {
	for k, v := range params {
		if old, ok := r.Params[k]; ok && old != v {
			return errors.NewValueError("LogParams", "param "+k+" already logged with value "+old)
		}
	}
	for k, v := range params {
		r.Params[k] = v
	}
	return nil
}

func (r *RunRecord) appendMetrics(metrics map[string]float64, now time.Time) {
	for _, k := range sortedKeys(metrics) {
		r.Metrics = append(r.Metrics, Metric{
			Key:       k,
			Value:     metrics[k],
			Step:      int64(len(r.History(k))),
			Timestamp: now,
		})
	}
}

func (r *RunRecord) addArtifact(name string) {
	for _, a := range r.Artifacts {
		if a == name {
			return
		}
	}
	r.Artifacts = append(r.Artifacts, name)
}

func (r *RunRecord) end(status RunStatus, now time.Time) error {
	if !status.Terminal() {
		return errors.NewValueError("EndRun", "status must be FINISHED, FAILED or KILLED, got "+string(status))
	}
	if err := r.requireActive(); err != nil {
		return err
	}
	r.Status = status
	r.EndTime = now
	return nil
}

func unknownRun(runID string) error {
	return errors.Wrapf(errors.ErrRunNotActive, "run %s does not exist", runID)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// newRunID returns a 32 character hex id in the format MLflow uses.
func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// cleanArtifactName rejects names that would escape the run's artifact directory.
func cleanArtifactName(name string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(name))
	if name == "" || clean == "." || filepath.IsAbs(name) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.NewValueError("LogArtifact", "invalid artifact name "+name)
	}
	return clean, nil
}
