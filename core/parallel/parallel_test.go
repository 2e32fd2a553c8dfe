package parallel

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"

	mlerrors "github.com/YuminosukeSato/mlops/pkg/errors"
)

func TestParallelize_CoversEveryItemOnce(t *testing.T) {
	for _, workers := range []int{1, 3, 8, 200} {
		seen := make([]int32, 100)
		err := Parallelize(len(seen), workers, func(start, end int) error {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("workers=%d: unexpected error %v", workers, err)
		}
		for i, c := range seen {
			if c != 1 {
				t.Errorf("workers=%d: item %d visited %d times", workers, i, c)
			}
		}
	}
}

func TestParallelize_ReturnsError(t *testing.T) {
	want := errors.New("tree failed")
	err := Parallelize(10, 4, func(start, end int) error {
		if start == 0 {
			return want
		}
		return nil
	})
	if !errors.Is(err, want) {
		t.Errorf("Parallelize() = %v, want %v", err, want)
	}
}

func TestParallelize_RecoversPanic(t *testing.T) {
	err := Parallelize(4, 2, func(start, end int) error {
		panic("bad split")
	})
	var panicErr *mlerrors.PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Parallelize() = %T, want *PanicError", err)
	}
}

func TestWorkers(t *testing.T) {
	tests := []struct {
		nJobs int
		want  int
	}{
		{0, 1},
		{1, 1},
		{4, 4},
		{-1, runtime.NumCPU()},
	}
	for _, tt := range tests {
		if got := Workers(tt.nJobs); got != tt.want {
			t.Errorf("Workers(%d) = %d, want %d", tt.nJobs, got, tt.want)
		}
	}
}

func TestParallelize_BoundsConcurrency(t *testing.T) {
	var running, peak int32
	err := Parallelize(64, 3, func(start, end int) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		runtime.Gosched()
		atomic.AddInt32(&running, -1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if peak > 3 {
		t.Errorf("%d chunks ran at once, want at most 3", peak)
	}
}
