package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mlops/config"
	"github.com/YuminosukeSato/mlops/monitoring"
	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/pkg/log"
)

func TestRun_PassesThresholds(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)

	perf, err := run(logger)
	require.NoError(t, err)

	th := monitoring.DefaultThresholds()
	assert.GreaterOrEqual(t, perf.Accuracy, th.Accuracy)
	assert.GreaterOrEqual(t, perf.Precision, th.Precision)
	assert.GreaterOrEqual(t, perf.Recall, th.Recall)
	assert.True(t, logger.ContainsMessage("Data integrity verified"))
	assert.True(t, logger.ContainsField(log.FeaturesKey, float64(20)))
}

func TestNewLogger_FollowsConfig(t *testing.T) {
	c, err := config.FromEnv(func(key string) (string, bool) {
		v, ok := map[string]string{"LOG_FORMAT": "cloud", "LOG_LEVEL": "warn"}[key]
		return v, ok
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger, err := newLogger(c, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"severity":"WARN"`)
	assert.Contains(t, buf.String(), `"`+log.ComponentKey+`":"smoke"`)
}

func TestNewLogger_RejectsUnknownFormat(t *testing.T) {
	c := config.Default()
	c.LogFormat = "xml"

	_, err := newLogger(c, &bytes.Buffer{})
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr), "error = %v", err)
}
