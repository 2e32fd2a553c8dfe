package errors

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDataErrors_Messages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "data error with column",
			err:     NewDataError("Clean", "age", "no non-missing values"),
			wantMsg: `mlops: Clean: column "age": no non-missing values`,
		},
		{
			name:    "data error without column",
			err:     NewDataError("Split", "", "train side is empty"),
			wantMsg: "mlops: Split: train side is empty",
		},
		{
			name:    "column not found",
			err:     NewColumnNotFoundError("ScaleFeatures", "x1", "x2"),
			wantMsg: "mlops: ScaleFeatures: columns not found: x1, x2",
		},
		{
			name:    "degenerate feature",
			err:     NewDegenerateFeatureError("const", 3),
			wantMsg: `mlops: feature "const" has zero variance (constant value 3)`,
		},
		{
			name:    "invalid fraction",
			err:     NewInvalidFractionError(1.5),
			wantMsg: "mlops: test fraction must be in (0, 1), got 1.5",
		},
		{
			name:    "stage",
			err:     NewStageError("Split", "loaded", "scaled", "split"),
			wantMsg: "mlops: Split: not allowed at stage loaded (allowed: scaled, split)",
		},
		{
			name:    "threshold",
			err:     NewThresholdError("accuracy", 0.5, 0.7),
			wantMsg: "mlops: accuracy 0.5000 is below threshold 0.7000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", tt.err.Error(), tt.wantMsg)
			}
			if formatted := fmt.Sprintf("%+v", tt.err); !strings.Contains(formatted, "data_test.go") {
				t.Error("Expected stack trace to contain test file name")
			}
		})
	}
}

func TestCollaboratorError_Unwrap(t *testing.T) {
	err := NewCollaboratorError("mlflow", "LogMetrics", ErrRunNotActive)

	if !Is(err, ErrRunNotActive) {
		t.Error("Expected Is(err, ErrRunNotActive) to be true")
	}

	var collabErr *CollaboratorError
	if !As(err, &collabErr) {
		t.Fatal("Error should be castable to *CollaboratorError")
	}
	if collabErr.Collaborator != "mlflow" {
		t.Errorf("Collaborator = %v, want mlflow", collabErr.Collaborator)
	}
}

func TestDataError_MarshalZerologObject(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	var dataErr *DataError
	if !As(NewDataError("EncodeCategorical", "color", "missing symbol"), &dataErr) {
		t.Fatal("Error should be castable to *DataError")
	}
	logger.Error().EmbedObject(dataErr).Msg("encode failed")

	out := buf.String()
	for _, want := range []string{`"column":"color"`, `"operation":"EncodeCategorical"`, `"type":"DataError"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s does not contain %s", out, want)
		}
	}
}

func TestWarn_UsesZerologFunc(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("precision", "no predicted samples", 0))

	if len(got) != 1 {
		t.Fatalf("warn func called %d times, want 1", len(got))
	}
	var w *UndefinedMetricWarning
	if !As(got[0], &w) || w.Metric != "precision" {
		t.Errorf("unexpected warning %v", got[0])
	}
}
