package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

var goodMetrics = map[string]float64{"accuracy": 0.91, "loss": 0.24, "f1": 0.9}

func newRegistry(t *testing.T, opts ...Option) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := Open(filepath.Join(dir, "mlflow.db"), filepath.Join(dir, "models"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, dir
}

func writeArtifact(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "model.gob")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_VersionsIncrement(t *testing.T) {
	r, dir := newRegistry(t)
	ctx := context.Background()
	artifact := writeArtifact(t, dir, "v1")

	first, err := r.Register(ctx, Request{Name: "churn", RunID: "run1", Artifact: artifact, Metrics: goodMetrics})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", first.Version)
	assert.Equal(t, filepath.Join(dir, "models", "churn", "1.0.0", "model.gob"), first.Path)

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	second, err := r.Register(ctx, Request{Name: "churn", RunID: "run2", Artifact: artifact, Metrics: goodMetrics})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", second.Version)

	other, err := r.Register(ctx, Request{Name: "fraud", RunID: "run3", Artifact: artifact, Metrics: goodMetrics})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", other.Version)

	latest, err := r.Latest(ctx, "churn")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", latest.Version)
	assert.Equal(t, "run2", latest.RunID)
	assert.Equal(t, goodMetrics, latest.Metrics)
	assert.WithinDuration(t, second.CreatedAt, latest.CreatedAt, 0)

	versions, err := r.List(ctx, "churn")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.0.0", versions[0].Version)
	assert.Equal(t, "1.0.1", versions[1].Version)
}

func TestRegistry_ExplicitVersion(t *testing.T) {
	r, dir := newRegistry(t)
	ctx := context.Background()
	artifact := writeArtifact(t, dir, "m")

	mv, err := r.Register(ctx, Request{Name: "m", Version: "2.1.0", Artifact: artifact, Metrics: goodMetrics})
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", mv.Version)

	next, err := r.Register(ctx, Request{Name: "m", Artifact: artifact, Metrics: goodMetrics})
	require.NoError(t, err)
	assert.Equal(t, "2.1.1", next.Version)

	_, err = r.Register(ctx, Request{Name: "m", Version: "1.9.9", Artifact: artifact, Metrics: goodMetrics})
	assert.Error(t, err)
}

func TestRegistry_Validation(t *testing.T) {
	r, dir := newRegistry(t)
	ctx := context.Background()
	artifact := writeArtifact(t, dir, "m")

	_, err := r.Register(ctx, Request{Name: "m", Artifact: artifact, Metrics: map[string]float64{"accuracy": 0.9}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loss, f1")

	_, err = r.Register(ctx, Request{Name: "../escape", Artifact: artifact, Metrics: goodMetrics})
	assert.Error(t, err)

	_, err = r.Register(ctx, Request{Name: "m", Artifact: filepath.Join(dir, "missing.gob"), Metrics: goodMetrics})
	assert.Error(t, err)

	_, err = r.Latest(ctx, "m")
	assert.True(t, errors.Is(err, ErrModelNotFound), "failed registrations must not create versions")
}

func TestRegistry_ValidationDisabled(t *testing.T) {
	r, dir := newRegistry(t, WithValidation(false))
	artifact := writeArtifact(t, dir, "m")

	mv, err := r.Register(context.Background(), Request{Name: "m", Artifact: artifact})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", mv.Version)
}

func TestRegistry_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	db := filepath.Join(dir, "registry.db")
	artifact := writeArtifact(t, dir, "m")

	r, err := Open(db, filepath.Join(dir, "models"))
	require.NoError(t, err)
	_, err = r.Register(ctx, Request{Name: "m", Artifact: artifact, Metrics: goodMetrics})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r, err = Open(db, filepath.Join(dir, "models"))
	require.NoError(t, err)
	defer r.Close()
	mv, err := r.Register(ctx, Request{Name: "m", Artifact: artifact, Metrics: goodMetrics})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", mv.Version)
}

func TestSQLitePath(t *testing.T) {
	p, err := SQLitePath("sqlite:///mlflow.db")
	require.NoError(t, err)
	assert.Equal(t, "mlflow.db", p)

	p, err = SQLitePath("sqlite:////var/lib/mlflow.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/var/lib/mlflow.db"), p)

	_, err = SQLitePath("postgresql://localhost/mlflow")
	assert.Error(t, err)
	_, err = SQLitePath("sqlite:///")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	v, err := ParseVersion("v1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Version{1, 2, 3}, v)
	assert.Equal(t, "1.2.4", v.NextPatch().String())
	assert.True(t, v.Less(Version{1, 3, 0}))
	assert.False(t, v.Less(v))
	assert.True(t, Version{1, 10, 0}.Less(Version{2, 0, 0}))

	for _, bad := range []string{"1.2", "1.2.x", "1.-1.0", ""} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}
