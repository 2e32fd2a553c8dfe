// Command setup-mlops creates the models, mlruns and config directories and
// writes the tracking, registry and experiment-tracking documents.
//
// Settings come from .env and the environment; see config.Load.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/YuminosukeSato/mlops/config"
	"github.com/YuminosukeSato/mlops/pkg/log"
)

func main() {
	if err := run(os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "setup-mlops: %v\n", err)
		os.Exit(1)
	}
}

func run(stderr io.Writer) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := log.New(c.LogFormat, c.LogLevel, stderr)
	if err != nil {
		return err
	}
	l := logger.With(log.ComponentKey, "setup-mlops")

	paths, err := config.WriteAll(c)
	if err != nil {
		l.Error("Failed to write configuration", log.ErrAttrKey, err)
		return err
	}
	for _, p := range paths {
		l.Info("Configuration written", log.PathKey, p)
	}
	if c.TrackingURI == "" {
		l.Info("No tracking server configured, runs are stored locally", log.PathKey, c.MLrunsDir)
	} else {
		l.Info("Tracking server configured", log.TrackingURIKey, c.TrackingURI)
	}
	return nil
}
