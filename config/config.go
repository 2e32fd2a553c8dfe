// Package config builds the explicit configuration of the mlops commands from the
// environment and writes and reads the YAML documents consumed by the tracking
// server, the model registry and the experiment-tracking integration.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// Classifier kinds accepted by TrainingConfig.Classifier.
const (
	RandomForest       = "random_forest"
	DecisionTree       = "decision_tree"
	LogisticRegression = "logistic_regression"
)

// TrainingConfig describes one training pipeline invocation.
type TrainingConfig struct {
	DataPath            string
	Target              string
	Features            []string
	Categorical         []string
	TestFraction        float64
	Seed                int64
	ExperimentName      string
	Classifier          string
	NEstimators         int
	MaxDepth            int // 0 means unlimited
	NJobs               int
	RegisteredModelName string // empty skips registration
}

// Config is the full environment-derived configuration.
type Config struct {
	ConfigDir string
	ModelsDir string
	MLrunsDir string

	TrackingURI   string // empty selects the local store under MLrunsDir
	TrackingToken string
	RegistryURI   string

	ModelStorageS3 string

	WandbProject string
	WandbEntity  string
	WandbAPIKey  string

	MonitorName     string
	PushgatewayURL  string
	MetricsTextfile string

	LogLevel  string
	LogFormat string // json (zerolog) or cloud (slog, Cloud Logging names)

	Training TrainingConfig
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		ConfigDir:      "config",
		ModelsDir:      "models",
		MLrunsDir:      "mlruns",
		RegistryURI:    "sqlite:///mlflow.db",
		ModelStorageS3: "none",
		MonitorName:    "ml_training",
		LogLevel:       "info",
		LogFormat:      "json",
		Training: TrainingConfig{
			DataPath:       "data/raw_data.csv",
			Target:         "target",
			Features:       []string{"feature1", "feature2", "feature3"},
			Categorical:    []string{"category"},
			TestFraction:   0.2,
			Seed:           42,
			ExperimentName: "model_training",
			Classifier:     RandomForest,
			NEstimators:    100,
			NJobs:          1,
		},
	}
}

// Load reads the given dotenv files (default ".env"), skipping missing ones,
// and then builds the configuration from the process environment. Variables
// already set in the environment win over dotenv values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrapf(err, "failed to load %s", f)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration from lookup, falling back to Default values.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}
	c := Default()

	c.ConfigDir = e.str("CONFIG_DIR", c.ConfigDir)
	c.ModelsDir = e.str("MODELS_DIR", c.ModelsDir)
	c.MLrunsDir = e.str("MLRUNS_DIR", c.MLrunsDir)
	c.TrackingURI = e.str("MLFLOW_TRACKING_URI", "")
	c.TrackingToken = e.str("MLFLOW_TRACKING_TOKEN", "")
	c.RegistryURI = e.str("MLFLOW_REGISTRY_URI", c.RegistryURI)
	c.ModelStorageS3 = e.str("MODEL_STORAGE_S3", c.ModelStorageS3)
	c.WandbProject = e.str("WANDB_PROJECT", "")
	c.WandbEntity = e.str("WANDB_ENTITY", "")
	c.WandbAPIKey = e.str("WANDB_API_KEY", "")
	c.MonitorName = e.str("MONITOR_NAME", c.MonitorName)
	c.PushgatewayURL = e.str("PUSHGATEWAY_URL", "")
	c.MetricsTextfile = e.str("METRICS_TEXTFILE", "")
	c.LogLevel = e.str("LOG_LEVEL", c.LogLevel)
	c.LogFormat = e.str("LOG_FORMAT", c.LogFormat)

	t := &c.Training
	t.DataPath = e.str("TRAIN_DATA_PATH", t.DataPath)
	t.Target = e.str("TRAIN_TARGET_COLUMN", t.Target)
	t.Features = e.list("TRAIN_FEATURE_COLUMNS", t.Features)
	t.Categorical = e.list("TRAIN_CATEGORICAL_COLUMNS", t.Categorical)
	t.TestFraction = e.float("TRAIN_TEST_FRACTION", t.TestFraction)
	t.Seed = int64(e.int("TRAIN_SEED", int(t.Seed)))
	t.ExperimentName = e.str("MLFLOW_EXPERIMENT_NAME", t.ExperimentName)
	t.Classifier = strings.ToLower(e.str("TRAIN_CLASSIFIER", t.Classifier))
	t.NEstimators = e.int("TRAIN_N_ESTIMATORS", t.NEstimators)
	t.MaxDepth = e.int("TRAIN_MAX_DEPTH", t.MaxDepth)
	t.NJobs = e.int("TRAIN_N_JOBS", t.NJobs)
	t.RegisteredModelName = e.str("REGISTERED_MODEL_NAME", "")

	if e.err != nil {
		return nil, e.err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the values that the commands cannot run with.
func (c *Config) Validate() error {
	t := c.Training
	switch t.Classifier {
	case RandomForest, DecisionTree, LogisticRegression:
	default:
		return errors.NewValidationError("TRAIN_CLASSIFIER", "must be random_forest, decision_tree or logistic_regression", t.Classifier)
	}
	if t.Target == "" {
		return errors.NewValidationError("TRAIN_TARGET_COLUMN", "must not be empty", t.Target)
	}
	if t.TestFraction <= 0 || t.TestFraction >= 1 {
		return errors.NewValidationError("TRAIN_TEST_FRACTION", "must be in (0, 1)", t.TestFraction)
	}
	if t.NEstimators < 1 {
		return errors.NewValidationError("TRAIN_N_ESTIMATORS", "must be at least 1", t.NEstimators)
	}
	if t.MaxDepth < 0 {
		return errors.NewValidationError("TRAIN_MAX_DEPTH", "must be non-negative", t.MaxDepth)
	}
	if t.ExperimentName == "" {
		return errors.NewValidationError("MLFLOW_EXPERIMENT_NAME", "must not be empty", t.ExperimentName)
	}
	return nil
}

// env reads typed variables and keeps the first parse error.
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

// list splits a comma separated value. A variable set to the empty string
// yields an empty list rather than the default.
func (e *env) list(key string, def []string) []string {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (e *env) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return f
}

func (e *env) fail(key, value string) {
	if e.err == nil {
		e.err = errors.NewValidationError(key, "cannot parse environment value", value)
	}
}
