// Command smoke checks a synthetic 1000×20 binary dataset for integrity, trains
// a random forest on an 80/20 split and fails when accuracy, precision or
// recall fall below 0.7/0.6/0.6.
//
// Logging follows LOG_LEVEL and LOG_FORMAT; see config.Load.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/YuminosukeSato/mlops/config"
	"github.com/YuminosukeSato/mlops/dataset"
	"github.com/YuminosukeSato/mlops/monitoring"
	"github.com/YuminosukeSato/mlops/pkg/log"
	"github.com/YuminosukeSato/mlops/preprocessing"
	"github.com/YuminosukeSato/mlops/sklearn/ensemble"
)

const minRows = 500

func main() {
	c, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "smoke: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(c, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smoke: %v\n", err)
		os.Exit(1)
	}

	perf, err := run(logger)
	if err != nil {
		logger.Error("Smoke test failed", log.ErrAttrKey, err)
		os.Exit(1)
	}
	logger.Info("Smoke test passed",
		log.AccuracyKey, perf.Accuracy,
		log.F1Key, perf.F1,
	)
}

func newLogger(c *config.Config, w io.Writer) (log.Logger, error) {
	base, err := log.New(c.LogFormat, c.LogLevel, w)
	if err != nil {
		return nil, err
	}
	return base.With(log.ComponentKey, "smoke"), nil
}

func run(logger log.Logger) (monitoring.Performance, error) {
	opts := dataset.DefaultClassificationOptions()
	ds, err := dataset.MakeClassification(opts)
	if err != nil {
		return monitoring.Performance{}, err
	}

	features := make([]string, opts.NFeatures)
	for i := range features {
		features[i] = fmt.Sprintf("feature_%d", i)
	}
	if err := monitoring.CheckDataIntegrity(ds, features, minRows); err != nil {
		return monitoring.Performance{}, err
	}
	logger.Info("Data integrity verified", log.SamplesKey, ds.NRows(), log.FeaturesKey, len(features))

	split, err := preprocessing.TrainTestSplit(ds, "target", 0.2, opts.Seed)
	if err != nil {
		return monitoring.Performance{}, err
	}
	forest := ensemble.NewRandomForestClassifier(ensemble.WithRandomState(opts.Seed))
	if err := forest.Fit(split.XTrain, split.YTrain); err != nil {
		return monitoring.Performance{}, err
	}
	return monitoring.CheckModelPerformance(forest, split.XTest, split.YTest, monitoring.DefaultThresholds())
}
