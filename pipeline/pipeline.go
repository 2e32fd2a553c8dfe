// Package pipeline runs the training workflow:
//
//	load → clean → encode → scale → split → fit → evaluate → track → register
//
// Loading, preprocessing, fitting and evaluation complete before a tracking run
// is started, so a model that failed to train never has metrics published.
// Once the run exists, any failure while publishing marks it FAILED.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlops/config"
	"github.com/YuminosukeSato/mlops/core/model"
	"github.com/YuminosukeSato/mlops/dataset"
	"github.com/YuminosukeSato/mlops/metrics"
	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/pkg/log"
	"github.com/YuminosukeSato/mlops/preprocessing"
	"github.com/YuminosukeSato/mlops/registry"
	"github.com/YuminosukeSato/mlops/report"
	"github.com/YuminosukeSato/mlops/tracking"
)

// Artifact names logged to the tracking run.
const (
	ModelArtifact      = "model"
	ImportanceArtifact = "feature_importance.png"
)

// SystemMonitor records resource usage of a training run.
type SystemMonitor interface {
	RecordTrainingTime(d time.Duration)
	LogSystemMetrics(ctx context.Context, t tracking.Tracker, runID string) error
}

// ModelRegistry stores versions of trained models.
type ModelRegistry interface {
	Register(ctx context.Context, req registry.Request) (*registry.ModelVersion, error)
}

// runRecorder is implemented by monitors that count runs by terminal status.
type runRecorder interface {
	RecordRun(status tracking.RunStatus)
}

// Result is the outcome of a successful Run.
type Result struct {
	Model         model.Classifier
	TrainAccuracy float64
	TestAccuracy  float64
	Metrics       map[string]float64
	RunID         string
	Bundle        *ModelBundle
	BundlePath    string                 // local copy under the models directory, empty when not saved
	Version       *registry.ModelVersion // nil when registration is skipped
	Split         *preprocessing.Split
}

// Option configures a TrainingPipeline.
type Option func(*TrainingPipeline)

// WithMonitor sets the system monitor.
func WithMonitor(m SystemMonitor) Option {
	return func(p *TrainingPipeline) { p.monitor = m }
}

// WithRegistry sets the model registry. Registration also needs
// TrainingConfig.RegisteredModelName.
func WithRegistry(r ModelRegistry) Option {
	return func(p *TrainingPipeline) { p.registry = r }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger log.Logger) Option {
	return func(p *TrainingPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithModelsDir saves each bundle to <dir>/<runID>/model.gob.
func WithModelsDir(dir string) Option {
	return func(p *TrainingPipeline) { p.modelsDir = dir }
}

// WithDataset trains on ds instead of loading TrainingConfig.DataPath.
// The pipeline mutates ds.
func WithDataset(ds *dataset.Dataset) Option {
	return func(p *TrainingPipeline) {
		p.load = func() (*dataset.Dataset, error) { return ds, nil }
	}
}

// TrainingPipeline trains, evaluates and publishes one classifier.
type TrainingPipeline struct {
	cfg       config.TrainingConfig
	tracker   tracking.Tracker
	monitor   SystemMonitor
	registry  ModelRegistry
	logger    log.Logger
	modelsDir string
	load      func() (*dataset.Dataset, error)
	now       func() time.Time
}

// New creates a pipeline logging to tracker.
func New(cfg config.TrainingConfig, tracker tracking.Tracker, opts ...Option) *TrainingPipeline {
	p := &TrainingPipeline{
		cfg:     cfg,
		tracker: tracker,
		logger:  log.NopLogger{},
		now:     time.Now,
	}
	p.load = func() (*dataset.Dataset, error) { return dataset.LoadCSV(p.cfg.DataPath) }
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(log.ComponentKey, "pipeline", log.ExperimentKey, cfg.ExperimentName)
	return p
}

// trained is the state handed from the offline stages to publishing.
type trained struct {
	clf      model.Classifier
	split    *preprocessing.Split
	metrics  map[string]float64
	bundle   *ModelBundle
	chart    []byte
	fitTime  time.Duration
	params   map[string]string
	features []string
}

// Run executes the pipeline. Errors from loading, preprocessing, fitting or
// evaluation are returned before any tracking call is made.
func (p *TrainingPipeline) Run(ctx context.Context) (*Result, error) {
	if p.tracker == nil {
		return nil, errors.NewValueError("TrainingPipeline.Run", "no tracker configured")
	}
	t, err := p.train(ctx)
	if err != nil {
		p.logger.Error("Training aborted before tracking", log.ErrAttrKey, err)
		return nil, err
	}

	runID, err := p.tracker.StartRun(ctx, p.cfg.ExperimentName)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With(log.RunIDKey, runID)
	logger.Info("Run started", log.PhaseKey, log.PhaseTracking)

	res := &Result{
		Model:         t.clf,
		TrainAccuracy: t.metrics["train_accuracy"],
		TestAccuracy:  t.metrics["test_accuracy"],
		Metrics:       t.metrics,
		RunID:         runID,
		Bundle:        t.bundle,
		Split:         t.split,
	}
	if err := p.publish(ctx, runID, t, res); err != nil {
		logger.Error("Publishing failed", log.ErrAttrKey, err)
		if endErr := p.tracker.EndRun(ctx, runID, tracking.StatusFailed); endErr != nil {
			logger.Warn("Could not mark run as failed", log.ErrAttrKey, endErr)
		}
		p.recordRun(tracking.StatusFailed)
		return nil, err
	}
	if err := p.tracker.EndRun(ctx, runID, tracking.StatusFinished); err != nil {
		p.recordRun(tracking.StatusFailed)
		return nil, err
	}
	p.recordRun(tracking.StatusFinished)

	logger.Info("Run finished",
		log.RunStatusKey, string(tracking.StatusFinished),
		log.AccuracyKey, res.TestAccuracy,
		log.DurationMsKey, t.fitTime.Milliseconds(),
	)
	return res, nil
}

func (p *TrainingPipeline) recordRun(status tracking.RunStatus) {
	if r, ok := p.monitor.(runRecorder); ok {
		r.RecordRun(status)
	}
}

// train performs every step that happens before a run is started.
func (p *TrainingPipeline) train(ctx context.Context) (*trained, error) {
	cfg := p.cfg
	ds, err := p.load()
	if err != nil {
		return nil, err
	}

	prep := preprocessing.NewDataPreprocessor(ds, preprocessing.WithLogger(p.logger))
	if _, err := prep.Clean(); err != nil {
		return nil, err
	}
	encoders, err := prep.EncodeCategorical(cfg.Categorical)
	if err != nil {
		return nil, err
	}
	scaler, err := prep.ScaleFeatures(cfg.Features)
	if err != nil {
		return nil, err
	}
	split, err := prep.Split(cfg.Target, cfg.TestFraction, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "training cancelled")
	}

	clf, err := NewClassifier(cfg)
	if err != nil {
		return nil, err
	}
	nTrain, nFeatures := split.XTrain.Dims()
	p.logger.Info("Fitting classifier",
		log.OperationKey, log.OperationFit,
		log.ModelNameKey, cfg.Classifier,
		log.SamplesKey, nTrain,
		log.FeaturesKey, nFeatures,
	)
	start := p.now()
	if err := clf.Fit(split.XTrain, split.YTrain); err != nil {
		return nil, err
	}
	fitTime := p.now().Sub(start)

	scores, err := evaluate(clf, split)
	if err != nil {
		return nil, err
	}

	t := &trained{
		clf:      clf,
		split:    split,
		metrics:  scores,
		fitTime:  fitTime,
		features: split.FeatureNames,
		bundle: &ModelBundle{
			Classifier:   clf,
			FillValues:   prep.FillValues(),
			Encoders:     encoders,
			Scaler:       scaler,
			FeatureNames: split.FeatureNames,
			Target:       cfg.Target,
			Metadata: BundleMetadata{
				Classifier: cfg.Classifier,
				Experiment: cfg.ExperimentName,
				Seed:       cfg.Seed,
				CreatedAt:  p.now().UTC(),
				Metrics:    scores,
			},
		},
		params: p.params(clf, split),
	}

	if fi, ok := clf.(model.FeatureImporter); ok {
		t.chart, err = report.FeatureImportanceChart(split.FeatureNames, fi.GetFeatureImportances(), report.DefaultChartOptions())
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// evaluate computes the metrics logged for every run. accuracy, loss and f1
// are the test-set values the registry validates.
func evaluate(clf model.Classifier, split *preprocessing.Split) (map[string]float64, error) {
	trainAcc, err := score(clf, split.XTrain, split.YTrain)
	if err != nil {
		return nil, err
	}
	pred, err := clf.Predict(split.XTest)
	if err != nil {
		return nil, err
	}
	yPred := mat.NewVecDense(split.YTest.Len(), mat.Col(nil, 0, pred))

	testAcc, err := metrics.Accuracy(split.YTest, yPred)
	if err != nil {
		return nil, err
	}
	precision, err := metrics.Precision(split.YTest, yPred)
	if err != nil {
		return nil, err
	}
	recall, err := metrics.Recall(split.YTest, yPred)
	if err != nil {
		return nil, err
	}
	f1, err := metrics.F1Score(split.YTest, yPred)
	if err != nil {
		return nil, err
	}
	proba, err := clf.PredictProba(split.XTest)
	if err != nil {
		return nil, err
	}
	loss, err := metrics.LogLoss(split.YTest, proba, clf.Classes())
	if err != nil {
		return nil, err
	}

	return map[string]float64{
		"train_accuracy": trainAcc,
		"test_accuracy":  testAcc,
		"accuracy":       testAcc,
		"precision":      precision,
		"recall":         recall,
		"f1":             f1,
		"loss":           loss,
	}, nil
}

func score(clf model.Classifier, X *mat.Dense, y *mat.VecDense) (float64, error) {
	pred, err := clf.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy(y, mat.NewVecDense(y.Len(), mat.Col(nil, 0, pred)))
}

func (p *TrainingPipeline) params(clf model.Classifier, split *preprocessing.Split) map[string]string {
	nTrain, nFeatures := split.XTrain.Dims()
	nTest, _ := split.XTest.Dims()
	params := map[string]string{
		"classifier":    p.cfg.Classifier,
		"target":        p.cfg.Target,
		"test_fraction": strconv.FormatFloat(p.cfg.TestFraction, 'g', -1, 64),
		"seed":          strconv.FormatInt(p.cfg.Seed, 10),
		"n_train":       strconv.Itoa(nTrain),
		"n_test":        strconv.Itoa(nTest),
		"n_features":    strconv.Itoa(nFeatures),
	}
	if pg, ok := clf.(model.ParameterGetter); ok {
		for k, v := range pg.GetParams() {
			if _, taken := params[k]; !taken {
				params[k] = fmt.Sprint(v)
			}
		}
	}
	return params
}

// publish logs everything about a trained model to the started run.
func (p *TrainingPipeline) publish(ctx context.Context, runID string, t *trained, res *Result) error {
	if err := p.tracker.LogParams(ctx, runID, t.params); err != nil {
		return err
	}
	if err := p.tracker.LogMetrics(ctx, runID, t.metrics); err != nil {
		return err
	}

	t.bundle.Metadata.RunID = runID
	data, err := t.bundle.Encode()
	if err != nil {
		return err
	}
	if err := p.tracker.LogArtifact(ctx, runID, ModelArtifact, data); err != nil {
		return err
	}
	if t.chart != nil {
		if err := p.tracker.LogArtifact(ctx, runID, ImportanceArtifact, t.chart); err != nil {
			return err
		}
	}

	if p.modelsDir != "" {
		res.BundlePath = filepath.Join(p.modelsDir, runID, "model.gob")
		if err := t.bundle.Save(res.BundlePath); err != nil {
			return err
		}
	}

	if p.monitor != nil {
		p.monitor.RecordTrainingTime(t.fitTime)
		if err := p.monitor.LogSystemMetrics(ctx, p.tracker, runID); err != nil {
			return err
		}
	}

	if p.registry != nil && p.cfg.RegisteredModelName != "" {
		if res.BundlePath == "" {
			return errors.NewValueError("TrainingPipeline.Run", "model registration needs a models directory")
		}
		mv, err := p.registry.Register(ctx, registry.Request{
			Name:     p.cfg.RegisteredModelName,
			RunID:    runID,
			Artifact: res.BundlePath,
			Metrics:  t.metrics,
		})
		if err != nil {
			return err
		}
		res.Version = mv
	}
	return nil
}
