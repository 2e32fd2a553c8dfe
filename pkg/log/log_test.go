package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	mlerrors "github.com/YuminosukeSato/mlops/pkg/errors"
)

func TestTestLogger_Levels(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationClean)
	testLogger.Warn("warning message", ColumnsKey, "age")
	testLogger.Error("error message", ErrAttrKey, fmt.Errorf("test error"))

	if buffer.Len() == 0 {
		t.Fatal("Expected log output, got empty string")
	}
	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}
	if !testLogger.ContainsField("number", 42.0) {
		t.Error("Expected field number=42 not found")
	}
	if !testLogger.ContainsField(ErrAttrKey, "test error") {
		t.Error("Expected error field rendered as message")
	}
}

func TestTestLogger_With(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	runLogger := testLogger.With(
		ExperimentKey, "model_training",
		RunIDKey, "run-001",
	)
	runLogger.Info("metrics logged", AccuracyKey, 0.91)

	if !testLogger.ContainsField(ExperimentKey, "model_training") {
		t.Error("experiment context not found")
	}
	if !testLogger.ContainsField(RunIDKey, "run-001") {
		t.Error("run id context not found")
	}
	if !testLogger.ContainsField(AccuracyKey, 0.91) {
		t.Error("accuracy field not found")
	}
}

func TestTestLogger_Enabled(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)
	ctx := context.Background()

	if !testLogger.Enabled(ctx, LevelInfo) {
		t.Error("Logger should be enabled for Info level")
	}
	if testLogger.Enabled(ctx, LevelDebug) {
		t.Error("Logger should not be enabled for Debug level")
	}

	testLogger.Debug("this should not appear")
	testLogger.Info("this should appear")

	if testLogger.ContainsMessage("this should not appear") {
		t.Error("Debug message should not appear when level is Info")
	}
	if !testLogger.ContainsMessage("this should appear") {
		t.Error("Info message should appear when level is Info")
	}
}

func TestTestLogger_Clear(t *testing.T) {
	parent, buffer := NewTestLogger(LevelInfo)
	child := parent.With(ComponentKey, "tracking")

	child.Info("named logger message")
	if !parent.ContainsField(ComponentKey, "tracking") {
		t.Errorf("child record missing from shared buffer: %s", buffer.String())
	}
	parent.Clear()
	if buffer.Len() != 0 {
		t.Errorf("buffer not empty after Clear: %s", buffer.String())
	}
	var nop Logger = NopLogger{}
	if nop.With("k", "v").Enabled(context.Background(), LevelError) {
		t.Error("NopLogger should report every level disabled")
	}
}

func TestTestLogger_Concurrent(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	const goroutines, perGoroutine = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			child := testLogger.With("tree", id)
			for j := 0; j < perGoroutine; j++ {
				child.Info("tree fitted", "node_count", j)
			}
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) != goroutines*perGoroutine {
		t.Errorf("len(entries) = %d, want %d", len(entries), goroutines*perGoroutine)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestZerologLogger_StructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo).With(RunIDKey, "abc")

	logger.Debug("hidden")
	logger.Error("preprocessing failed",
		ErrAttrKey, mlerrors.NewDataError("Clean", "age", "no non-missing values"),
		SamplesKey, 10,
	)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %s", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry[RunIDKey] != "abc" {
		t.Errorf("%s = %v, want abc", RunIDKey, entry[RunIDKey])
	}
	if entry[SamplesKey] != 10.0 {
		t.Errorf("%s = %v, want 10", SamplesKey, entry[SamplesKey])
	}
	detail, ok := entry[ErrAttrKey+"_detail"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing structured error detail: %v", entry)
	}
	if detail["type"] != "DataError" || detail["column"] != "age" {
		t.Errorf("unexpected error detail %v", detail)
	}
	if st, _ := entry[StacktraceAttrKey].(string); !strings.Contains(st, "log_test.go") {
		t.Errorf("%s = %q, want the stack of the error's origin", StacktraceAttrKey, st)
	}
}

func TestSlogLogger_Enabled(t *testing.T) {
	var buf bytes.Buffer
	logger, err := SetupLogger("warn", &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	logger.Warn("kept", StageKey, "cleaned")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"message":"kept"`) || !strings.Contains(out, `"severity":"WARN"`) {
		t.Errorf("unexpected output %s", out)
	}
	if logger.Enabled(context.Background(), LevelInfo) {
		t.Error("Enabled(Info) should be false at warn level")
	}
}

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format  string
		marker  string
		wantErr bool
	}{
		{format: "", marker: `"message":"ready"`},
		{format: FormatJSON, marker: `"message":"ready"`},
		{format: FormatCloud, marker: `"severity":"INFO"`},
		{format: "text", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(tt.format, "info", &buf)
			if tt.wantErr {
				var ve *mlerrors.ValidationError
				if !mlerrors.As(err, &ve) {
					t.Fatalf("New(%q) error = %v, want *ValidationError", tt.format, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) error = %v", tt.format, err)
			}
			logger.Info("ready")
			if !strings.Contains(buf.String(), tt.marker) {
				t.Errorf("output %s does not contain %s", buf.String(), tt.marker)
			}
		})
	}
}

func BenchmarkTestLogger(b *testing.B) {
	testLogger, _ := NewTestLogger(LevelInfo)
	contextLogger := testLogger.With(ModelNameKey, "RandomForestClassifier")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		contextLogger.Info("benchmark message",
			"iteration", i,
			OperationKey, OperationPredict,
			SamplesKey, 1000,
		)
	}
}
