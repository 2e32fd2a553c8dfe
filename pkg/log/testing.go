package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// capture is the buffer shared by a TestLogger and its With children.
type capture struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (c *capture) write(line []byte) {
	c.mu.Lock()
	c.buf.Write(line)
	c.buf.WriteByte('\n')
	c.mu.Unlock()
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// TestLogger records every enabled call as one JSON object per line, with
// "level" and "message" next to the fields. Error values are stored as their
// message.
//
//	logger, buf := log.NewTestLogger(log.LevelDebug)
//	p := preprocessing.NewDataPreprocessor(ds, preprocessing.WithLogger(logger))
//	...
//	assert.True(t, logger.ContainsMessage("Dataset cleaned"), buf.String())
type TestLogger struct {
	out    *capture
	level  Level
	fields map[string]interface{}
}

// NewTestLogger returns a logger emitting records at level and above, and the
// buffer it writes to.
func NewTestLogger(level Level) (*TestLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &TestLogger{out: &capture{buf: buf}, level: level, fields: map[string]interface{}{}}, buf
}

func (t *TestLogger) Debug(msg string, fields ...any) { t.record(LevelDebug, msg, fields) }
func (t *TestLogger) Info(msg string, fields ...any)  { t.record(LevelInfo, msg, fields) }
func (t *TestLogger) Warn(msg string, fields ...any)  { t.record(LevelWarn, msg, fields) }
func (t *TestLogger) Error(msg string, fields ...any) { t.record(LevelError, msg, fields) }

func (t *TestLogger) With(fields ...any) Logger {
	child := &TestLogger{out: t.out, level: t.level, fields: make(map[string]interface{}, len(t.fields))}
	for k, v := range t.fields {
		child.fields[k] = v
	}
	setFields(child.fields, fields)
	return child
}

func (t *TestLogger) Enabled(_ context.Context, level Level) bool { return level >= t.level }

func setFields(dst map[string]interface{}, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		v := kv[i+1]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		dst[fmt.Sprint(kv[i])] = v
	}
}

func (t *TestLogger) record(level Level, msg string, fields []any) {
	if level < t.level {
		return
	}
	entry := make(map[string]interface{}, len(t.fields)+len(fields)/2+2)
	for k, v := range t.fields {
		entry[k] = v
	}
	setFields(entry, fields)
	entry["level"] = level.String()
	entry["message"] = msg

	line, err := json.Marshal(entry)
	if err != nil {
		line, _ = json.Marshal(map[string]interface{}{"level": level.String(), "message": msg, "marshal_error": err.Error()})
	}
	t.out.write(line)
}

// GetLogEntries decodes the captured lines. Numbers come back as float64.
func (t *TestLogger) GetLogEntries() ([]map[string]interface{}, error) {
	var entries []map[string]interface{}
	for _, line := range strings.Split(t.out.String(), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ContainsMessage reports whether message occurs anywhere in the output.
func (t *TestLogger) ContainsMessage(message string) bool {
	return strings.Contains(t.out.String(), message)
}

// ContainsField reports whether some record has key equal to value.
// Pass float64 for numbers.
func (t *TestLogger) ContainsField(key string, value interface{}) bool {
	entries, err := t.GetLogEntries()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if v, ok := e[key]; ok && v == value {
			return true
		}
	}
	return false
}

// Clear drops everything captured so far, for all loggers sharing the buffer.
func (t *TestLogger) Clear() {
	t.out.mu.Lock()
	t.out.buf.Reset()
	t.out.mu.Unlock()
}
