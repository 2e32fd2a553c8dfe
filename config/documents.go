package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// Document file names under Config.ConfigDir.
const (
	MLflowFile             = "mlflow-config.yml"
	RegistryFile           = "model-registry.yml"
	ExperimentTrackingFile = "experiment-tracking.yml"
)

// Fields are declared in lexical key order so that the encoded documents list
// their keys sorted.

// MLflowDocument is config/mlflow-config.yml.
type MLflowDocument struct {
	ArtifactRoot       string             `yaml:"artifact_root"`
	ExperimentDefaults ExperimentDefaults `yaml:"experiment_defaults"`
	RegistryURI        string             `yaml:"registry_uri"`
	TrackingURI        *string            `yaml:"tracking_uri"`
}

// ExperimentDefaults apply to experiments created by the tracking server.
type ExperimentDefaults struct {
	ArtifactLocation string `yaml:"artifact_location"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
}

// RegistryDocument is config/model-registry.yml.
type RegistryDocument struct {
	Storage    RegistryStorage    `yaml:"storage"`
	Validation RegistryValidation `yaml:"validation"`
	Versioning RegistryVersioning `yaml:"versioning"`
}

type RegistryStorage struct {
	LocalStorage string `yaml:"local_storage"`
	S3Storage    string `yaml:"s3_storage"`
}

type RegistryValidation struct {
	Metrics  []string `yaml:"metrics"`
	Required bool     `yaml:"required"`
}

type RegistryVersioning struct {
	AutoIncrement bool   `yaml:"auto_increment"`
	Strategy      string `yaml:"strategy"`
}

// ExperimentTrackingDocument is config/experiment-tracking.yml.
type ExperimentTrackingDocument struct {
	Metrics TrackedMetrics `yaml:"metrics"`
	Wandb   WandbSettings  `yaml:"wandb"`
}

type TrackedMetrics struct {
	System   []string `yaml:"system"`
	Training []string `yaml:"training"`
}

// WandbSettings holds the W&B integration values; unset variables are written as null.
type WandbSettings struct {
	APIKey       *string `yaml:"api_key"`
	Entity       *string `yaml:"entity"`
	LogArtifacts bool    `yaml:"log_artifacts"`
	Project      *string `yaml:"project"`
}

// MLflowDocumentFor builds the tracking document of c.
func MLflowDocumentFor(c *Config) MLflowDocument {
	root := dotPath(c.MLrunsDir)
	return MLflowDocument{
		ArtifactRoot: root,
		ExperimentDefaults: ExperimentDefaults{
			ArtifactLocation: root,
			LifecycleStage:   "active",
		},
		RegistryURI: c.RegistryURI,
		TrackingURI: optional(c.TrackingURI),
	}
}

// RegistryDocumentFor builds the registry document of c.
func RegistryDocumentFor(c *Config) RegistryDocument {
	return RegistryDocument{
		Storage: RegistryStorage{
			LocalStorage: dotPath(c.ModelsDir),
			S3Storage:    c.ModelStorageS3,
		},
		Validation: RegistryValidation{
			Metrics:  []string{"accuracy", "loss", "f1"},
			Required: true,
		},
		Versioning: RegistryVersioning{
			AutoIncrement: true,
			Strategy:      "semantic",
		},
	}
}

// ExperimentTrackingDocumentFor builds the experiment-tracking document of c.
func ExperimentTrackingDocumentFor(c *Config) ExperimentTrackingDocument {
	return ExperimentTrackingDocument{
		Metrics: TrackedMetrics{
			System:   []string{"gpu_usage", "memory_usage", "training_time"},
			Training: []string{"loss", "accuracy", "val_loss", "val_accuracy"},
		},
		Wandb: WandbSettings{
			APIKey:       optional(c.WandbAPIKey),
			Entity:       optional(c.WandbEntity),
			LogArtifacts: true,
			Project:      optional(c.WandbProject),
		},
	}
}

// WriteAll creates the models, mlruns and config directories and writes the
// three documents, overwriting earlier versions. It returns the written paths.
func WriteAll(c *Config) ([]string, error) {
	for _, dir := range []string{c.ModelsDir, c.MLrunsDir, c.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}

	docs := []struct {
		name string
		doc  interface{}
	}{
		{MLflowFile, MLflowDocumentFor(c)},
		{RegistryFile, RegistryDocumentFor(c)},
		{ExperimentTrackingFile, ExperimentTrackingDocumentFor(c)},
	}
	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		path := filepath.Join(c.ConfigDir, d.name)
		if err := writeYAML(path, d.doc); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeYAML(path string, doc interface{}) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := enc.Close(); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func readYAML(path string, doc interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return nil
}

// ReadMLflowDocument parses a tracking document.
func ReadMLflowDocument(path string) (*MLflowDocument, error) {
	var d MLflowDocument
	if err := readYAML(path, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ReadRegistryDocument parses a registry document.
func ReadRegistryDocument(path string) (*RegistryDocument, error) {
	var d RegistryDocument
	if err := readYAML(path, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ReadExperimentTrackingDocument parses an experiment-tracking document.
func ReadExperimentTrackingDocument(path string) (*ExperimentTrackingDocument, error) {
	var d ExperimentTrackingDocument
	if err := readYAML(path, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Path returns the location of the document name under c.ConfigDir.
func (c *Config) Path(name string) string {
	return filepath.Join(c.ConfigDir, name)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// dotPath writes relative directories as ./dir.
func dotPath(p string) string {
	if filepath.IsAbs(p) || strings.HasPrefix(p, ".") {
		return p
	}
	return "./" + filepath.ToSlash(p)
}
