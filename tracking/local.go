package tracking

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

const (
	experimentsBucket = "experiments" // experiment name → id
	runsBucket        = "runs"        // run id → JSON RunRecord

	trackingDBName = "tracking.db"
)

// LocalStore persists runs in <root>/tracking.db and writes artifacts to
// <root>/<experimentID>/<runID>/artifacts/<name>.
type LocalStore struct {
	root string
	db   *bbolt.DB
	now  func() time.Time
}

// OpenLocalStore opens (creating when needed) the store rooted at root.
func OpenLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create tracking root %s", root)
	}

	db, err := bbolt.Open(filepath.Join(root, trackingDBName), 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open tracking database")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(experimentsBucket)); err != nil {
			return errors.Wrap(err, "create experiments bucket")
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return errors.Wrap(err, "create runs bucket")
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &LocalStore{root: root, db: db, now: time.Now}, nil
}

// Root returns the directory of the store.
func (s *LocalStore) Root() string { return s.root }

// Close closes the database.
func (s *LocalStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StartRun implements Tracker.
func (s *LocalStore) StartRun(_ context.Context, experiment string) (string, error) {
	id := newRunID()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		exps := tx.Bucket([]byte(experimentsBucket))
		expID := string(exps.Get([]byte(experiment)))
		if expID == "" {
			seq, err := exps.NextSequence()
			if err != nil {
				return errors.Wrap(err, "allocate experiment id")
			}
			expID = strconv.FormatUint(seq, 10)
			if err := exps.Put([]byte(experiment), []byte(expID)); err != nil {
				return errors.Wrap(err, "store experiment")
			}
		}
		return putRun(tx, newRunRecord(id, expID, experiment, s.now()))
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func putRun(tx *bbolt.Tx, r *RunRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal run")
	}
	return tx.Bucket([]byte(runsBucket)).Put([]byte(r.ID), data)
}

func getRun(tx *bbolt.Tx, runID string) (*RunRecord, error) {
	data := tx.Bucket([]byte(runsBucket)).Get([]byte(runID))
	if data == nil {
		return nil, unknownRun(runID)
	}
	var r RunRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "unmarshal run %s", runID)
	}
	if r.Params == nil {
		r.Params = make(map[string]string)
	}
	return &r, nil
}

// update loads the run, applies fn and stores the result in one transaction.
func (s *LocalStore) update(runID string, fn func(r *RunRecord) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		r, err := getRun(tx, runID)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		return putRun(tx, r)
	})
}

// LogParams implements Tracker.
func (s *LocalStore) LogParams(_ context.Context, runID string, params map[string]string) error {
	return s.update(runID, func(r *RunRecord) error {
		if err := r.requireActive(); err != nil {
			return err
		}
		return r.mergeParams(params)
	})
}

// LogMetrics implements Tracker.
func (s *LocalStore) LogMetrics(_ context.Context, runID string, metrics map[string]float64) error {
	return s.update(runID, func(r *RunRecord) error {
		if err := r.requireActive(); err != nil {
			return err
		}
		r.appendMetrics(metrics, s.now())
		return nil
	})
}

// LogArtifact implements Tracker. The file is written before the run record is
// updated, inside the same transaction.
func (s *LocalStore) LogArtifact(_ context.Context, runID, name string, data []byte) error {
	clean, err := cleanArtifactName(name)
	if err != nil {
		return err
	}
	return s.update(runID, func(r *RunRecord) error {
		if err := r.requireActive(); err != nil {
			return err
		}
		path := s.artifactPath(r, clean)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrapf(err, "create artifact directory for %s", clean)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.Wrapf(err, "write artifact %s", clean)
		}
		r.addArtifact(clean)
		return nil
	})
}

// EndRun implements Tracker.
func (s *LocalStore) EndRun(_ context.Context, runID string, status RunStatus) error {
	return s.update(runID, func(r *RunRecord) error {
		return r.end(status, s.now())
	})
}

// Run returns the stored record of runID.
func (s *LocalStore) Run(runID string) (*RunRecord, error) {
	var r *RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		r, err = getRun(tx, runID)
		return err
	})
	return r, err
}

// Runs returns every run of experiment, ordered by start time.
func (s *LocalStore) Runs(experiment string) ([]*RunRecord, error) {
	var runs []*RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrapf(err, "unmarshal run %s", k)
			}
			if r.Experiment == experiment {
				runs = append(runs, &r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

func sortRuns(runs []*RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartTime.Before(runs[j].StartTime) })
}

// ArtifactPath returns where artifact name of runID is stored.
func (s *LocalStore) ArtifactPath(runID, name string) (string, error) {
	r, err := s.Run(runID)
	if err != nil {
		return "", err
	}
	clean, err := cleanArtifactName(name)
	if err != nil {
		return "", err
	}
	return s.artifactPath(r, clean), nil
}

func (s *LocalStore) artifactPath(r *RunRecord, name string) string {
	return filepath.Join(s.root, r.ExperimentID, r.ID, "artifacts", filepath.FromSlash(name))
}
