// Package registry keeps semantic versions of trained models in a sqlite database
// and copies each registered artifact under <storage>/<name>/<version>/.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/pkg/log"
)

// ErrModelNotFound is returned when no version of a model is registered.
var ErrModelNotFound = errors.New("registered model not found")

// DefaultRequiredMetrics are the metrics a version must carry to be registered.
var DefaultRequiredMetrics = []string{"accuracy", "loss", "f1"}

const schema = `
CREATE TABLE IF NOT EXISTS model_versions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT    NOT NULL,
	version    TEXT    NOT NULL,
	major      INTEGER NOT NULL,
	minor      INTEGER NOT NULL,
	patch      INTEGER NOT NULL,
	run_id     TEXT    NOT NULL,
	source     TEXT    NOT NULL,
	path       TEXT    NOT NULL,
	metrics    TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (name, version)
)`

// ModelVersion is one registered version of a model.
type ModelVersion struct {
	Name      string             `json:"name"`
	Version   string             `json:"version"`
	RunID     string             `json:"run_id"`
	Source    string             `json:"source"` // artifact path given to Register
	Path      string             `json:"path"`   // copy under the registry storage
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
}

// Request describes a model version to register.
type Request struct {
	Name     string
	Version  string // empty selects the next patch version
	RunID    string
	Artifact string // local file copied into the registry storage
	Metrics  map[string]float64
}

// Registry is a sqlite-backed model registry.
type Registry struct {
	db       *sql.DB
	storage  string
	required []string
	validate bool
	logger   log.Logger
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithRequiredMetrics replaces the metrics Register checks for.
func WithRequiredMetrics(metrics ...string) Option {
	return func(r *Registry) { r.required = metrics }
}

// WithValidation turns the required-metrics check on or off.
func WithValidation(required bool) Option {
	return func(r *Registry) { r.validate = required }
}

// WithLogger sets the registry's logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Open opens (creating when needed) the registry database at dbPath and uses
// storage as the root for artifact copies.
func Open(dbPath, storage string, opts ...Option) (*Registry, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create registry directory %s", dir)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open registry database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping registry database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create model_versions table")
	}

	r := &Registry{
		db:       db,
		storage:  storage,
		required: DefaultRequiredMetrics,
		validate: true,
		logger:   log.NopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(log.ComponentKey, "registry")
	return r, nil
}

// OpenURI opens the registry addressed by a sqlite URI such as sqlite:///mlflow.db.
func OpenURI(uri, storage string, opts ...Option) (*Registry, error) {
	path, err := SQLitePath(uri)
	if err != nil {
		return nil, err
	}
	return Open(path, storage, opts...)
}

// SQLitePath extracts the database path of a sqlite URI. Three slashes give a
// relative path, four an absolute one.
func SQLitePath(uri string) (string, error) {
	const prefix = "sqlite:///"
	if !strings.HasPrefix(uri, prefix) || len(uri) == len(prefix) {
		return "", errors.NewValueError("registry.OpenURI", "unsupported registry URI "+uri)
	}
	return filepath.FromSlash(strings.TrimPrefix(uri, prefix)), nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Register validates req, assigns its version, copies the artifact and records
// the version.
func (r *Registry) Register(ctx context.Context, req Request) (*ModelVersion, error) {
	if req.Name == "" || strings.ContainsAny(req.Name, `/\`) || req.Name == "." || req.Name == ".." {
		return nil, errors.NewValueError("Register", "invalid model name "+req.Name)
	}
	if r.validate {
		var missing []string
		for _, m := range r.required {
			if _, ok := req.Metrics[m]; !ok {
				missing = append(missing, m)
			}
		}
		if len(missing) > 0 {
			return nil, errors.NewValueError("Register", "missing required metrics: "+strings.Join(missing, ", "))
		}
	}
	metrics, err := json.Marshal(req.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "marshal metrics")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin registry transaction")
	}
	defer tx.Rollback()

	latest, found, err := latestVersion(ctx, tx, req.Name)
	if err != nil {
		return nil, err
	}
	version := FirstVersion
	if found {
		version = latest.NextPatch()
	}
	if req.Version != "" {
		v, err := ParseVersion(req.Version)
		if err != nil {
			return nil, err
		}
		if found && !latest.Less(v) {
			return nil, errors.NewValueError("Register", "version "+v.String()+" is not greater than "+latest.String())
		}
		version = v
	}

	dst, err := r.copyArtifact(req.Name, version, req.Artifact)
	if err != nil {
		return nil, err
	}

	mv := &ModelVersion{
		Name:      req.Name,
		Version:   version.String(),
		RunID:     req.RunID,
		Source:    req.Artifact,
		Path:      dst,
		Metrics:   req.Metrics,
		CreatedAt: r.now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO model_versions (name, version, major, minor, patch, run_id, source, path, metrics, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.Name, mv.Version, version.Major, version.Minor, version.Patch,
		mv.RunID, mv.Source, mv.Path, string(metrics), mv.CreatedAt.UnixNano())
	if err != nil {
		os.RemoveAll(filepath.Dir(dst))
		return nil, errors.Wrapf(err, "insert version %s of %s", mv.Version, mv.Name)
	}
	if err := tx.Commit(); err != nil {
		os.RemoveAll(filepath.Dir(dst))
		return nil, errors.Wrap(err, "commit registry transaction")
	}

	r.logger.Info("Model registered",
		log.RegisteredModelKey, mv.Name,
		log.ModelVersionKey, mv.Version,
		log.RunIDKey, mv.RunID,
		log.PathKey, mv.Path,
	)
	return mv, nil
}

func latestVersion(ctx context.Context, tx *sql.Tx, name string) (Version, bool, error) {
	var v Version
	err := tx.QueryRowContext(ctx, `
		SELECT major, minor, patch FROM model_versions
		WHERE name = ?
		ORDER BY major DESC, minor DESC, patch DESC
		LIMIT 1`, name).Scan(&v.Major, &v.Minor, &v.Patch)
	if errors.Is(err, sql.ErrNoRows) {
		return v, false, nil
	}
	if err != nil {
		return v, false, errors.Wrapf(err, "query latest version of %s", name)
	}
	return v, true, nil
}

// copyArtifact copies src to <storage>/<name>/<version>/<base(src)>.
func (r *Registry) copyArtifact(name string, v Version, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", errors.Wrapf(err, "open artifact %s", src)
	}
	defer in.Close()

	dir := filepath.Join(r.storage, name, v.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", dir)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	out, err := os.Create(dst)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", errors.Wrapf(err, "copy artifact to %s", dst)
	}
	if err := out.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", dst)
	}
	return dst, nil
}

const selectColumns = `SELECT name, version, run_id, source, path, metrics, created_at FROM model_versions`

func scanVersion(row interface{ Scan(...any) error }) (*ModelVersion, error) {
	var (
		mv      ModelVersion
		metrics string
		created int64
	)
	if err := row.Scan(&mv.Name, &mv.Version, &mv.RunID, &mv.Source, &mv.Path, &metrics, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metrics), &mv.Metrics); err != nil {
		return nil, errors.Wrapf(err, "decode metrics of %s %s", mv.Name, mv.Version)
	}
	mv.CreatedAt = time.Unix(0, created).UTC()
	return &mv, nil
}

// Latest returns the highest version of name.
func (r *Registry) Latest(ctx context.Context, name string) (*ModelVersion, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`
		WHERE name = ?
		ORDER BY major DESC, minor DESC, patch DESC
		LIMIT 1`, name)
	mv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrModelNotFound, "model %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query latest version of %s", name)
	}
	return mv, nil
}

// List returns every version of name in ascending order.
func (r *Registry) List(ctx context.Context, name string) ([]*ModelVersion, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE name = ?
		ORDER BY major, minor, patch`, name)
	if err != nil {
		return nil, errors.Wrapf(err, "list versions of %s", name)
	}
	defer rows.Close()

	var out []*ModelVersion
	for rows.Next() {
		mv, err := scanVersion(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "scan version of %s", name)
		}
		out = append(out, mv)
	}
	return out, errors.Wrap(rows.Err(), "iterate versions")
}
