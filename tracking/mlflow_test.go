package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// fakeMLflow implements the subset of the MLflow REST API used by MLflowClient.
type fakeMLflow struct {
	mu          sync.Mutex
	experiments map[string]string
	runs        map[string]string // run id → status
	params      map[string]string
	metrics     []mlflowMetric
	artifacts   map[string][]byte
	auth        []string
	failCreate  bool
}

func newFakeMLflow() *fakeMLflow {
	return &fakeMLflow{
		experiments: map[string]string{"existing": "7"},
		runs:        make(map[string]string),
		params:      make(map[string]string),
		artifacts:   make(map[string][]byte),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeMLflow) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	if r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, mlflowArtifactsAPI+"/") {
		data, _ := io.ReadAll(r.Body)
		f.artifacts[strings.TrimPrefix(r.URL.Path, mlflowArtifactsAPI+"/")] = data
		w.WriteHeader(http.StatusOK)
		return
	}

	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch r.URL.Path {
	case mlflowAPI + "/experiments/get-by-name":
		id, ok := f.experiments[r.URL.Query().Get("experiment_name")]
		if !ok {
			writeJSON(w, http.StatusNotFound, mlflowError{ErrorCode: "RESOURCE_DOES_NOT_EXIST", Message: "no such experiment"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"experiment": map[string]string{"experiment_id": id}})
	case mlflowAPI + "/experiments/create":
		id := "100"
		f.experiments[body["name"].(string)] = id
		writeJSON(w, http.StatusOK, map[string]string{"experiment_id": id})
	case mlflowAPI + "/runs/create":
		if f.failCreate {
			writeJSON(w, http.StatusInternalServerError, mlflowError{ErrorCode: "INTERNAL_ERROR", Message: "boom"})
			return
		}
		id := "run" + body["experiment_id"].(string)
		f.runs[id] = "RUNNING"
		writeJSON(w, http.StatusOK, map[string]interface{}{"run": map[string]interface{}{"info": map[string]string{"run_id": id}}})
	case mlflowAPI + "/runs/log-batch":
		if ps, ok := body["params"].([]interface{}); ok {
			for _, p := range ps {
				kv := p.(map[string]interface{})
				f.params[kv["key"].(string)] = kv["value"].(string)
			}
		}
		if ms, ok := body["metrics"].([]interface{}); ok {
			for _, m := range ms {
				kv := m.(map[string]interface{})
				f.metrics = append(f.metrics, mlflowMetric{
					Key:   kv["key"].(string),
					Value: kv["value"].(float64),
					Step:  int64(kv["step"].(float64)),
				})
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{})
	case mlflowAPI + "/runs/update":
		f.runs[body["run_id"].(string)] = body["status"].(string)
		writeJSON(w, http.StatusOK, map[string]string{})
	default:
		writeJSON(w, http.StatusNotFound, mlflowError{ErrorCode: "ENDPOINT_NOT_FOUND", Message: r.URL.Path})
	}
}

func TestMLflowClient_Lifecycle(t *testing.T) {
	fake := newFakeMLflow()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewMLflowClient(srv.URL, WithToken("secret"))
	ctx := context.Background()

	runID, err := c.StartRun(ctx, "model_training")
	require.NoError(t, err)
	assert.Equal(t, "run100", runID)
	assert.Equal(t, "100", fake.experiments["model_training"])

	require.NoError(t, c.LogParams(ctx, runID, map[string]string{"seed": "42"}))
	require.NoError(t, c.LogMetrics(ctx, runID, map[string]float64{"accuracy": 0.8}))
	require.NoError(t, c.LogMetrics(ctx, runID, map[string]float64{"accuracy": 0.9}))
	require.NoError(t, c.LogArtifact(ctx, runID, "model", []byte("bundle")))
	require.NoError(t, c.LogArtifact(ctx, runID, "plots/feature importance#1.png", []byte("png")))
	require.NoError(t, c.EndRun(ctx, runID, StatusFinished))

	assert.Equal(t, map[string]string{"seed": "42"}, fake.params)
	require.Len(t, fake.metrics, 2)
	assert.Equal(t, int64(0), fake.metrics[0].Step)
	assert.Equal(t, int64(1), fake.metrics[1].Step)
	assert.Equal(t, 0.9, fake.metrics[1].Value)
	assert.Equal(t, []byte("bundle"), fake.artifacts["100/run100/artifacts/model"])
	assert.Equal(t, []byte("png"), fake.artifacts["100/run100/artifacts/plots/feature importance#1.png"])
	assert.Equal(t, "FINISHED", fake.runs[runID])
	for _, h := range fake.auth {
		assert.Equal(t, "Bearer secret", h)
	}

	err = c.LogMetrics(ctx, runID, map[string]float64{"accuracy": 1})
	assert.True(t, errors.Is(err, errors.ErrRunNotActive))
}

func TestMLflowClient_ExistingExperiment(t *testing.T) {
	fake := newFakeMLflow()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewMLflowClient(srv.URL)
	runID, err := c.StartRun(context.Background(), "existing")
	require.NoError(t, err)
	assert.Equal(t, "run7", runID)
	assert.Len(t, fake.experiments, 1, "no experiment should be created")
}

func TestMLflowClient_UnknownRun(t *testing.T) {
	srv := httptest.NewServer(newFakeMLflow())
	defer srv.Close()

	c := NewMLflowClient(srv.URL)
	err := c.LogParams(context.Background(), "nope", map[string]string{"a": "b"})
	assert.True(t, errors.Is(err, errors.ErrRunNotActive))
}

func TestMLflowClient_ServerError(t *testing.T) {
	fake := newFakeMLflow()
	fake.failCreate = true
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewMLflowClient(srv.URL)
	_, err := c.StartRun(context.Background(), "existing")
	require.Error(t, err)

	var collab *errors.CollaboratorError
	require.True(t, errors.As(err, &collab))
	assert.Equal(t, "mlflow", collab.Collaborator)
	assert.Contains(t, err.Error(), "INTERNAL_ERROR")
}

func TestMLflowClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(newFakeMLflow())
	url := srv.URL
	srv.Close()

	c := NewMLflowClient(url)
	_, err := c.StartRun(context.Background(), "existing")
	var collab *errors.CollaboratorError
	assert.True(t, errors.As(err, &collab))
}
