package errors

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// DataError はデータセットの内容が処理の前提を満たさない場合のエラーです。
// 例: 数値列に値が一つもない、カテゴリ列に欠損がある、分割後の片側が空になる。
type DataError struct {
	Op     string
	Column string
	Reason string
}

func (e *DataError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("mlops: %s: column %q: %s", e.Op, e.Column, e.Reason)
	}
	return fmt.Sprintf("mlops: %s: %s", e.Op, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DataError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("column", e.Column).
		Str("reason", e.Reason).
		Str("type", "DataError")
}

// NewDataError は新しいDataErrorを作成し、スタックトレースを付与します。
func NewDataError(op, column, reason string) error {
	return errors.WithStack(&DataError{Op: op, Column: column, Reason: reason})
}

// ColumnNotFoundError は指定された列がデータセットに存在しない場合のエラーです。
type ColumnNotFoundError struct {
	Op      string
	Columns []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("mlops: %s: columns not found: %s", e.Op, strings.Join(e.Columns, ", "))
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ColumnNotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Strs("columns", e.Columns).
		Str("type", "ColumnNotFoundError")
}

// NewColumnNotFoundError は新しいColumnNotFoundErrorを作成し、スタックトレースを付与します。
func NewColumnNotFoundError(op string, columns ...string) error {
	return errors.WithStack(&ColumnNotFoundError{Op: op, Columns: columns})
}

// DegenerateFeatureError は標準偏差が0の列をスケーリングしようとした場合のエラーです。
type DegenerateFeatureError struct {
	Column string
	Value  float64 // 列の定数値
}

func (e *DegenerateFeatureError) Error() string {
	return fmt.Sprintf("mlops: feature %q has zero variance (constant value %g)", e.Column, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DegenerateFeatureError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("column", e.Column).
		Float64("value", e.Value).
		Str("type", "DegenerateFeatureError")
}

// NewDegenerateFeatureError は新しいDegenerateFeatureErrorを作成し、スタックトレースを付与します。
func NewDegenerateFeatureError(column string, value float64) error {
	return errors.WithStack(&DegenerateFeatureError{Column: column, Value: value})
}

// InvalidFractionError はテスト割合が開区間(0,1)の外にある場合のエラーです。
type InvalidFractionError struct {
	Fraction float64
}

func (e *InvalidFractionError) Error() string {
	return fmt.Sprintf("mlops: test fraction must be in (0, 1), got %g", e.Fraction)
}

// NewInvalidFractionError は新しいInvalidFractionErrorを作成し、スタックトレースを付与します。
func NewInvalidFractionError(fraction float64) error {
	return errors.WithStack(&InvalidFractionError{Fraction: fraction})
}

// StageError は前処理の呼び出し順序が不正な場合のエラーです。
type StageError struct {
	Op      string
	Current string
	Allowed []string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("mlops: %s: not allowed at stage %s (allowed: %s)", e.Op, e.Current, strings.Join(e.Allowed, ", "))
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *StageError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("current", e.Current).
		Strs("allowed", e.Allowed).
		Str("type", "StageError")
}

// NewStageError は新しいStageErrorを作成し、スタックトレースを付与します。
func NewStageError(op, current string, allowed ...string) error {
	return errors.WithStack(&StageError{Op: op, Current: current, Allowed: allowed})
}

// ThresholdError はモデル性能が閾値を下回った場合のエラーです。
type ThresholdError struct {
	Metric    string
	Value     float64
	Threshold float64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("mlops: %s %.4f is below threshold %.4f", e.Metric, e.Value, e.Threshold)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ThresholdError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("metric", e.Metric).
		Float64("value", e.Value).
		Float64("threshold", e.Threshold).
		Str("type", "ThresholdError")
}

// NewThresholdError は新しいThresholdErrorを作成し、スタックトレースを付与します。
func NewThresholdError(metric string, value, threshold float64) error {
	return errors.WithStack(&ThresholdError{Metric: metric, Value: value, Threshold: threshold})
}

// CollaboratorError はトラッキングサーバーやレジストリなど外部協調先の呼び出しに失敗した場合のエラーです。
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("mlops: %s: %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *CollaboratorError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("collaborator", e.Collaborator).
		Str("operation", e.Op).
		AnErr("cause", e.Err).
		Str("type", "CollaboratorError")
}

// NewCollaboratorError は新しいCollaboratorErrorを作成し、スタックトレースを付与します。
func NewCollaboratorError(collaborator, op string, err error) error {
	return errors.WithStack(&CollaboratorError{Collaborator: collaborator, Op: op, Err: err})
}
