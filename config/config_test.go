package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	c, err := FromEnv(lookupMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, "sqlite:///mlflow.db", c.RegistryURI)
	assert.Equal(t, "model_training", c.Training.ExperimentName)
	assert.Equal(t, []string{"feature1", "feature2", "feature3"}, c.Training.Features)
	assert.Equal(t, int64(42), c.Training.Seed)
	assert.Empty(t, c.TrackingURI)
}

func TestFromEnv_Overrides(t *testing.T) {
	c, err := FromEnv(lookupMap(map[string]string{
		"MLFLOW_TRACKING_URI":       "http://localhost:5000",
		"MLFLOW_EXPERIMENT_NAME":    "churn",
		"TRAIN_FEATURE_COLUMNS":     " a, b ,,c ",
		"TRAIN_CATEGORICAL_COLUMNS": "",
		"TRAIN_TEST_FRACTION":       "0.25",
		"TRAIN_SEED":                "7",
		"TRAIN_CLASSIFIER":          "Decision_Tree",
		"TRAIN_N_JOBS":              "-1",
		"REGISTERED_MODEL_NAME":     "churn-model",
		"LOG_LEVEL":                 "debug",
		"LOG_FORMAT":                "cloud",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", c.TrackingURI)
	assert.Equal(t, "churn", c.Training.ExperimentName)
	assert.Equal(t, []string{"a", "b", "c"}, c.Training.Features)
	assert.Empty(t, c.Training.Categorical)
	assert.Equal(t, 0.25, c.Training.TestFraction)
	assert.Equal(t, int64(7), c.Training.Seed)
	assert.Equal(t, DecisionTree, c.Training.Classifier)
	assert.Equal(t, -1, c.Training.NJobs)
	assert.Equal(t, "churn-model", c.Training.RegisteredModelName)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "cloud", c.LogFormat)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad int":        {"TRAIN_N_ESTIMATORS": "many"},
		"bad float":      {"TRAIN_TEST_FRACTION": "a fifth"},
		"fraction range": {"TRAIN_TEST_FRACTION": "1.5"},
		"classifier":     {"TRAIN_CLASSIFIER": "svm"},
		"estimators":     {"TRAIN_N_ESTIMATORS": "0"},
		"max depth":      {"TRAIN_MAX_DEPTH": "-2"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(lookupMap(vars))
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("WANDB_PROJECT=from-dotenv\nTRAIN_SEED=11\n"), 0o644))

	t.Setenv("TRAIN_SEED", "5")
	t.Setenv("WANDB_PROJECT", "")
	os.Unsetenv("WANDB_PROJECT")

	c, err := Load(envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", c.WandbProject)
	assert.Equal(t, int64(5), c.Training.Seed, "process environment wins over .env")
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.ConfigDir = filepath.Join(dir, "config")
	c.ModelsDir = filepath.Join(dir, "models")
	c.MLrunsDir = filepath.Join(dir, "mlruns")
	c.WandbProject = "proj"

	paths, err := WriteAll(c)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, d := range []string{c.ConfigDir, c.ModelsDir, c.MLrunsDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	mlflow, err := ReadMLflowDocument(c.Path(MLflowFile))
	require.NoError(t, err)
	assert.Equal(t, MLflowDocumentFor(c), *mlflow)
	assert.Nil(t, mlflow.TrackingURI)
	assert.Equal(t, "active", mlflow.ExperimentDefaults.LifecycleStage)

	reg, err := ReadRegistryDocument(c.Path(RegistryFile))
	require.NoError(t, err)
	assert.Equal(t, RegistryDocumentFor(c), *reg)
	assert.Equal(t, []string{"accuracy", "loss", "f1"}, reg.Validation.Metrics)
	assert.Equal(t, "none", reg.Storage.S3Storage)

	et, err := ReadExperimentTrackingDocument(c.Path(ExperimentTrackingFile))
	require.NoError(t, err)
	assert.Equal(t, ExperimentTrackingDocumentFor(c), *et)
	require.NotNil(t, et.Wandb.Project)
	assert.Equal(t, "proj", *et.Wandb.Project)
	assert.Nil(t, et.Wandb.APIKey)
}

func TestWriteAll_SortedKeysAndNulls(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.ConfigDir = filepath.Join(dir, "config")
	c.ModelsDir = filepath.Join(dir, "models")
	c.MLrunsDir = filepath.Join(dir, "mlruns")

	_, err := WriteAll(c)
	require.NoError(t, err)

	data, err := os.ReadFile(c.Path(MLflowFile))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "tracking_uri: null")

	var keys []string
	for _, line := range strings.Split(text, "\n") {
		if line != "" && !strings.HasPrefix(line, " ") {
			keys = append(keys, strings.SplitN(line, ":", 2)[0])
		}
	}
	assert.Equal(t, []string{"artifact_root", "experiment_defaults", "registry_uri", "tracking_uri"}, keys)
}

func TestWriteAll_Overwrites(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.ConfigDir = filepath.Join(dir, "config")
	c.ModelsDir = filepath.Join(dir, "models")
	c.MLrunsDir = filepath.Join(dir, "mlruns")

	_, err := WriteAll(c)
	require.NoError(t, err)

	c.TrackingURI = "http://tracking:5000"
	_, err = WriteAll(c)
	require.NoError(t, err)

	doc, err := ReadMLflowDocument(c.Path(MLflowFile))
	require.NoError(t, err)
	require.NotNil(t, doc.TrackingURI)
	assert.Equal(t, "http://tracking:5000", *doc.TrackingURI)
}

func TestDotPath(t *testing.T) {
	assert.Equal(t, "./mlruns", dotPath("mlruns"))
	assert.Equal(t, "./data/models", dotPath("data/models"))
	assert.Equal(t, "./x", dotPath("./x"))
	assert.Equal(t, "/abs/models", dotPath("/abs/models"))
}
