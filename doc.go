// Package mlops is a small MLOps toolkit for training tabular classifiers in Go.
//
// It bundles the pieces a training job needs around the model itself: data
// preparation, experiment tracking, system monitoring, a model registry and
// the configuration that ties them together.
//
// # Packages
//
//   - dataset: typed columnar tables, CSV loading and synthetic data
//   - preprocessing: cleaning, label encoding, standard scaling and train/test splits
//   - sklearn/ensemble, sklearn/tree, sklearn/linear_model: the classifiers
//   - metrics: accuracy, precision, recall, F1, AUC and log loss
//   - pipeline: the end-to-end TrainingPipeline and the ModelBundle it produces
//   - tracking: run tracking in memory, in a local bbolt store or on an MLflow server
//   - monitoring: Prometheus system metrics and data/model quality checks
//   - registry: semantic model versions in sqlite
//   - report: feature-importance charts
//   - config: environment-driven settings and the YAML documents written at setup
//
// # Commands
//
//	setup-mlops   create models/, mlruns/, config/ and the YAML documents
//	train         run the TrainingPipeline against the configured stores
//	smoke         integrity and quality checks on a synthetic dataset
//
// # Quick Start
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := tracking.Open(cfg.TrackingURI, cfg.MLrunsDir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	res, err := pipeline.New(cfg.Training, store,
//	    pipeline.WithMonitor(monitoring.NewMonitor(cfg.MonitorName)),
//	    pipeline.WithModelsDir(cfg.ModelsDir),
//	).Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("run %s: test accuracy %.3f\n", res.RunID, res.TestAccuracy)
//
// # Error Handling
//
// Errors are typed values from pkg/errors (DataError, ColumnNotFoundError,
// ThresholdError, CollaboratorError, ...) carrying stack traces; inspect them
// with errors.As. Failures before a run starts publish nothing; failures after
// it mark the run FAILED.
package mlops
