package tracking

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/pkg/log"
)

const (
	mlflowAPI          = "/api/2.0/mlflow"
	mlflowArtifactsAPI = "/api/2.0/mlflow-artifacts/artifacts"

	// maxBatchMetrics is the MLflow limit of metrics per log-batch call.
	maxBatchMetrics = 1000
)

// MLflowClient implements Tracker against an MLflow tracking server (REST API 2.0).
// It accepts logging only for runs it started itself and still considers RUNNING.
type MLflowClient struct {
	rest   *resty.Client
	logger log.Logger
	now    func() time.Time

	mu   sync.Mutex
	runs map[string]*mlflowRun
	exps map[string]string
}

type mlflowRun struct {
	experimentID string
	status       RunStatus
	steps        map[string]int64
}

// MLflowOption configures an MLflowClient.
type MLflowOption func(*MLflowClient)

// WithToken sends token as a bearer token on every request.
func WithToken(token string) MLflowOption {
	return func(c *MLflowClient) {
		if token != "" {
			c.rest.SetAuthToken(token)
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) MLflowOption {
	return func(c *MLflowClient) {
		if timeout > 0 {
			c.rest.SetTimeout(timeout)
		}
	}
}

// WithClientLogger sets the logger used for request summaries.
func WithClientLogger(logger log.Logger) MLflowOption {
	return func(c *MLflowClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewMLflowClient creates a client for the server at baseURL (for example http://localhost:5000).
func NewMLflowClient(baseURL string, opts ...MLflowOption) *MLflowClient {
	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")
	c := &MLflowClient{
		rest:   r,
		logger: log.NopLogger{},
		now:    time.Now,
		runs:   make(map[string]*mlflowRun),
		exps:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(log.ComponentKey, "tracking.mlflow", log.TrackingURIKey, baseURL)
	return c
}

// mlflowError is the error body returned by the tracking server.
type mlflowError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (e *mlflowError) Error() string {
	return e.ErrorCode + ": " + e.Message
}

// call sends one request. result may be nil.
func (c *MLflowClient) call(ctx context.Context, method, path string, body, result interface{}) error {
	apiErr := &mlflowError{}
	req := c.rest.R().SetContext(ctx).SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.NewCollaboratorError("mlflow", path, err)
	}
	c.logger.Debug("MLflow request", "method", method, "path", path, "status", resp.StatusCode())
	if resp.IsError() {
		if apiErr.ErrorCode == "" {
			apiErr.ErrorCode = strconv.Itoa(resp.StatusCode())
			apiErr.Message = resp.String()
		}
		return errors.NewCollaboratorError("mlflow", path, errors.WithStack(apiErr))
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *mlflowError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == "RESOURCE_DOES_NOT_EXIST"
}

// experimentID resolves experiment by name, creating it when it does not exist.
func (c *MLflowClient) experimentID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.exps[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := c.call(ctx, http.MethodGet, mlflowAPI+"/experiments/get-by-name?experiment_name="+url.QueryEscape(name), nil, &got)
	switch {
	case err == nil:
		id = got.Experiment.ExperimentID
	case isNotFound(err):
		var created struct {
			ExperimentID string `json:"experiment_id"`
		}
		if err := c.call(ctx, http.MethodPost, mlflowAPI+"/experiments/create", map[string]string{"name": name}, &created); err != nil {
			return "", err
		}
		id = created.ExperimentID
		c.logger.Info("MLflow experiment created", log.ExperimentKey, name)
	default:
		return "", err
	}

	c.mu.Lock()
	c.exps[name] = id
	c.mu.Unlock()
	return id, nil
}

// StartRun implements Tracker.
func (c *MLflowClient) StartRun(ctx context.Context, experiment string) (string, error) {
	expID, err := c.experimentID(ctx, experiment)
	if err != nil {
		return "", err
	}
	var created struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	body := map[string]interface{}{
		"experiment_id": expID,
		"start_time":    c.now().UnixMilli(),
	}
	if err := c.call(ctx, http.MethodPost, mlflowAPI+"/runs/create", body, &created); err != nil {
		return "", err
	}
	id := created.Run.Info.RunID
	if id == "" {
		return "", errors.NewCollaboratorError("mlflow", "runs/create", errors.New("response has no run id"))
	}

	c.mu.Lock()
	c.runs[id] = &mlflowRun{experimentID: expID, status: StatusRunning, steps: make(map[string]int64)}
	c.mu.Unlock()
	return id, nil
}

func (c *MLflowClient) active(runID string) (*mlflowRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[runID]
	if !ok {
		return nil, unknownRun(runID)
	}
	if r.status != StatusRunning {
		return nil, errors.Wrapf(errors.ErrRunNotActive, "run %s is %s", runID, r.status)
	}
	return r, nil
}

type mlflowParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mlflowMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// LogParams implements Tracker.
func (c *MLflowClient) LogParams(ctx context.Context, runID string, params map[string]string) error {
	if _, err := c.active(runID); err != nil {
		return err
	}
	batch := make([]mlflowParam, 0, len(params))
	for _, k := range sortedKeys(params) {
		batch = append(batch, mlflowParam{Key: k, Value: params[k]})
	}
	return c.call(ctx, http.MethodPost, mlflowAPI+"/runs/log-batch", map[string]interface{}{
		"run_id": runID,
		"params": batch,
	}, nil)
}

// LogMetrics implements Tracker.
func (c *MLflowClient) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	r, err := c.active(runID)
	if err != nil {
		return err
	}
	ts := c.now().UnixMilli()
	batch := make([]mlflowMetric, 0, len(metrics))
	c.mu.Lock()
	for _, k := range sortedKeys(metrics) {
		batch = append(batch, mlflowMetric{Key: k, Value: metrics[k], Timestamp: ts, Step: r.steps[k]})
		r.steps[k]++
	}
	c.mu.Unlock()

	for start := 0; start < len(batch); start += maxBatchMetrics {
		end := start + maxBatchMetrics
		if end > len(batch) {
			end = len(batch)
		}
		if err := c.call(ctx, http.MethodPost, mlflowAPI+"/runs/log-batch", map[string]interface{}{
			"run_id":  runID,
			"metrics": batch[start:end],
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

// LogArtifact implements Tracker by uploading to the server's artifact proxy.
func (c *MLflowClient) LogArtifact(ctx context.Context, runID, name string, data []byte) error {
	clean, err := cleanArtifactName(name)
	if err != nil {
		return err
	}
	r, err := c.active(runID)
	if err != nil {
		return err
	}
	path := mlflowArtifactsAPI + "/" + escapeSegments(r.experimentID+"/"+runID+"/artifacts/"+clean)
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Put(path)
	if err != nil {
		return errors.NewCollaboratorError("mlflow", "artifacts", err)
	}
	if resp.IsError() {
		return errors.NewCollaboratorError("mlflow", "artifacts",
			errors.Newf("status %d: %s", resp.StatusCode(), resp.String()))
	}
	c.logger.Debug("MLflow artifact uploaded", log.RunIDKey, runID, log.ArtifactKey, clean)
	return nil
}

// escapeSegments path-escapes every slash-separated segment of p.
func escapeSegments(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// EndRun implements Tracker.
func (c *MLflowClient) EndRun(ctx context.Context, runID string, status RunStatus) error {
	if !status.Terminal() {
		return errors.NewValueError("EndRun", "status must be FINISHED, FAILED or KILLED, got "+string(status))
	}
	r, err := c.active(runID)
	if err != nil {
		return err
	}
	if err := c.call(ctx, http.MethodPost, mlflowAPI+"/runs/update", map[string]interface{}{
		"run_id":   runID,
		"status":   string(status),
		"end_time": c.now().UnixMilli(),
	}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	r.status = status
	c.mu.Unlock()
	return nil
}

// Close implements io.Closer.
func (c *MLflowClient) Close() error { return nil }
