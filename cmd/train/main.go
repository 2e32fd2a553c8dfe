// Command train fits a classifier on TRAIN_DATA_PATH, logs the run to the
// configured tracking store and, when REGISTERED_MODEL_NAME is set, registers
// the model bundle.
//
// The documents written by setup-mlops are read when present; environment
// variables take precedence over them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/mlops/config"
	"github.com/YuminosukeSato/mlops/monitoring"
	"github.com/YuminosukeSato/mlops/pipeline"
	"github.com/YuminosukeSato/mlops/pkg/log"
	"github.com/YuminosukeSato/mlops/registry"
	"github.com/YuminosukeSato/mlops/tracking"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// settings are the collaborator locations after merging documents and environment.
type settings struct {
	trackingURI     string
	artifactRoot    string
	registryStorage string
	requiredMetrics []string
	validate        bool
}

// resolve merges the setup documents under c.ConfigDir with c. Missing
// documents fall back to the environment defaults.
func resolve(c *config.Config, logger log.Logger) (settings, error) {
	s := settings{
		trackingURI:     c.TrackingURI,
		artifactRoot:    c.MLrunsDir,
		registryStorage: c.ModelsDir,
		requiredMetrics: registry.DefaultRequiredMetrics,
		validate:        true,
	}

	if path := c.Path(config.MLflowFile); exists(path) {
		doc, err := config.ReadMLflowDocument(path)
		if err != nil {
			return s, err
		}
		if s.trackingURI == "" && doc.TrackingURI != nil {
			s.trackingURI = *doc.TrackingURI
		}
		if doc.ArtifactRoot != "" {
			s.artifactRoot = doc.ArtifactRoot
		}
	} else {
		logger.Warn("Tracking document not found, run setup-mlops to create it", log.PathKey, path)
	}

	if path := c.Path(config.RegistryFile); exists(path) {
		doc, err := config.ReadRegistryDocument(path)
		if err != nil {
			return s, err
		}
		if doc.Storage.LocalStorage != "" {
			s.registryStorage = doc.Storage.LocalStorage
		}
		if len(doc.Validation.Metrics) > 0 {
			s.requiredMetrics = doc.Validation.Metrics
		}
		s.validate = doc.Validation.Required
	}
	return s, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func run(ctx context.Context) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	zl, err := log.New(c.LogFormat, c.LogLevel, os.Stderr)
	if err != nil {
		return err
	}
	logger := zl.With(log.ComponentKey, "train")

	s, err := resolve(c, logger)
	if err != nil {
		return err
	}

	store, err := tracking.Open(s.trackingURI, s.artifactRoot,
		tracking.WithToken(c.TrackingToken),
		tracking.WithClientLogger(zl),
	)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Tracking store ready", log.TrackingURIKey, s.trackingURI, log.PathKey, s.artifactRoot)

	mon := monitoring.NewMonitor(c.MonitorName,
		monitoring.WithPushgateway(c.PushgatewayURL),
		monitoring.WithTextfile(c.MetricsTextfile),
		monitoring.WithLogger(zl),
	)
	opts := []pipeline.Option{
		pipeline.WithMonitor(mon),
		pipeline.WithLogger(zl),
		pipeline.WithModelsDir(c.ModelsDir),
	}

	if c.Training.RegisteredModelName != "" {
		reg, err := registry.OpenURI(c.RegistryURI, s.registryStorage,
			registry.WithRequiredMetrics(s.requiredMetrics...),
			registry.WithValidation(s.validate),
			registry.WithLogger(zl),
		)
		if err != nil {
			return err
		}
		defer reg.Close()
		opts = append(opts, pipeline.WithRegistry(reg))
	}

	res, err := pipeline.New(c.Training, store, opts...).Run(ctx)
	if err != nil {
		return err
	}

	fields := []any{
		log.RunIDKey, res.RunID,
		log.AccuracyKey, res.TestAccuracy,
		log.F1Key, res.Metrics["f1"],
		log.PathKey, res.BundlePath,
	}
	if res.Version != nil {
		fields = append(fields, log.RegisteredModelKey, res.Version.Name, log.ModelVersionKey, res.Version.Version)
	}
	logger.Info("Training completed", fields...)
	fmt.Printf("Run %s: train accuracy %.4f, test accuracy %.4f\n", res.RunID, res.TrainAccuracy, res.TestAccuracy)
	return nil
}
