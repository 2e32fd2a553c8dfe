package model

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Encode writes v to w with gob. Estimators control their wire form through
// GobEncode, so v is usually a bundle holding them.
func Encode(w io.Writer, v interface{}) error {
	return errors.Wrap(gob.NewEncoder(w).Encode(v), "failed to encode model")
}

// Decode reads a value written by Encode into the pointer v.
func Decode(r io.Reader, v interface{}) error {
	return errors.Wrap(gob.NewDecoder(r).Decode(v), "failed to decode model")
}

// Save encodes v to path, creating parent directories. The file is written
// next to path and renamed into place, so a reader never sees half a model.
func Save(path string, v interface{}) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create model file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := Encode(tmp, v); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "failed to flush model file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close model file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to move model to %s", path)
}

// Load decodes the file at path into the pointer v.
func Load(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open model %s", path)
	}
	defer f.Close()
	return Decode(f, v)
}
