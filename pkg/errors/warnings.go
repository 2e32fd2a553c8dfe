package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/rs/zerolog"
)

// 警告は処理を止めずに報告される。コマンドは log.SetupZerolog で出力先を zerolog に切り替える。
var (
	warnMu      sync.Mutex
	warnHandler = func(w error) { log.Printf("mlops-warning: %v\n", w) }
	zerologWarn func(w error)
)

// SetWarningHandler replaces the handler used when no zerolog sink is installed.
func SetWarningHandler(handler func(w error)) {
	warnMu.Lock()
	defer warnMu.Unlock()
	warnHandler = handler
}

// SetZerologWarnFunc installs a structured sink for warnings. It takes
// precedence over the handler set with SetWarningHandler; nil removes it.
func SetZerologWarnFunc(fn func(w error)) {
	warnMu.Lock()
	defer warnMu.Unlock()
	zerologWarn = fn
}

// Warn reports w without interrupting the caller.
func Warn(w error) {
	warnMu.Lock()
	defer warnMu.Unlock()
	switch {
	case zerologWarn != nil:
		zerologWarn(w)
	case warnHandler != nil:
		warnHandler(w)
	}
}

// ConvergenceWarning は反復最適化が max_iter までに収束しなかったことを示す。
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

func (w *ConvergenceWarning) Error() string {
	if w.Message == "" {
		return fmt.Sprintf("%s failed to converge after %d iterations. Consider increasing max_iter or adjusting parameters.", w.Algorithm, w.Iterations)
	}
	return fmt.Sprintf("%s failed to converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", "ConvergenceWarning").
		Str("algorithm", w.Algorithm).
		Int("iterations", w.Iterations).
		Str("message", w.Message)
}

// NewConvergenceWarning creates a ConvergenceWarning.
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

// UndefinedMetricWarning は分母が0で指標が定義できず、Result で代用したことを示す。
// 例: 陽性予測が一件もないときの precision。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined and being set to %f due to %s.", w.Metric, w.Result, w.Condition)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", "UndefinedMetricWarning").
		Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result)
}

// NewUndefinedMetricWarning creates an UndefinedMetricWarning.
func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}
