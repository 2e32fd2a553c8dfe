package pipeline

import (
	"encoding/gob"

	"github.com/YuminosukeSato/mlops/config"
	"github.com/YuminosukeSato/mlops/core/model"
	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/sklearn/ensemble"
	"github.com/YuminosukeSato/mlops/sklearn/linear_model"
	"github.com/YuminosukeSato/mlops/sklearn/tree"
)

func init() {
	// Concrete classifiers travel inside ModelBundle as model.Classifier.
	gob.Register(&ensemble.RandomForestClassifier{})
	gob.Register(&tree.DecisionTreeClassifier{})
	gob.Register(&linear_model.LogisticRegression{})
}

// NewClassifier builds the unfitted classifier selected by cfg.Classifier,
// seeded with cfg.Seed.
func NewClassifier(cfg config.TrainingConfig) (model.Classifier, error) {
	switch cfg.Classifier {
	case config.RandomForest, "":
		return ensemble.NewRandomForestClassifier(
			ensemble.WithNEstimators(cfg.NEstimators),
			ensemble.WithMaxDepth(cfg.MaxDepth),
			ensemble.WithRandomState(cfg.Seed),
			ensemble.WithNJobs(cfg.NJobs),
		), nil
	case config.DecisionTree:
		return tree.NewDecisionTreeClassifier(
			tree.WithMaxDepth(cfg.MaxDepth),
			tree.WithRandomState(cfg.Seed),
		), nil
	case config.LogisticRegression:
		return linear_model.NewLogisticRegression(
			linear_model.WithLRRandomState(cfg.Seed),
			linear_model.WithLRMaxIter(1000),
		), nil
	default:
		return nil, errors.NewValidationError("classifier", "unknown classifier kind", cfg.Classifier)
	}
}
