// Package parallel runs index ranges on a bounded number of goroutines.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	mlerrors "github.com/YuminosukeSato/mlops/pkg/errors"
)

// Workers maps an n_jobs value to a goroutine count: 0 and 1 run
// sequentially, negative values use every CPU.
func Workers(nJobs int) int {
	if nJobs < 0 {
		return runtime.NumCPU()
	}
	return max(nJobs, 1)
}

// Parallelize splits [0, items) into at most workers contiguous chunks and
// calls fn once per chunk. A panic in fn becomes a *errors.PanicError. The
// first error is returned once every chunk has finished.
func Parallelize(items, workers int, fn func(start, end int) error) error {
	if items == 0 {
		return nil
	}
	workers = min(max(workers, 1), items)
	chunk := (items + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < items; start += chunk {
		end := min(start+chunk, items)
		g.Go(func() error {
			return mlerrors.SafeExecute("parallel.range", func() error { return fn(start, end) })
		})
	}
	return g.Wait()
}
