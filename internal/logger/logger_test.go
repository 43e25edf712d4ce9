package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(buf *bytes.Buffer, format string) *Logger {
	return New(&Config{Level: "debug", Format: format, Output: buf, ServiceName: "test"})
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("log line is not JSON: %q: %v", line, err)
	}
	return m
}

func TestJSONOutputUsesRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, "json")

	l.WithField("k", "v").Info("hello")

	m := decodeLine(t, &buf)
	if m["message"] != "hello" {
		t.Errorf("message = %v", m["message"])
	}
	if m["service"] != "test" || m["k"] != "v" {
		t.Errorf("fields = %v", m)
	}
	if _, ok := m["timestamp"]; !ok {
		t.Error("missing timestamp key")
	}
	if file, _ := m["file"].(string); !strings.HasPrefix(file, "logger_test.go:") {
		t.Errorf("file = %q, want logger_test.go:<line>", file)
	}
}

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, "json")

	ctx := l.WithContext(context.Background())
	ctx = SetRequestID(ctx, "req-1")
	ctx = SetVideoID(ctx, "clip")

	if GetRequestID(ctx) != "req-1" || GetVideoID(ctx) != "clip" {
		t.Fatalf("context fields not stored")
	}

	CtxInfo(ctx, "frame %d", 3)
	m := decodeLine(t, &buf)
	if m[FieldRequestID] != "req-1" || m[FieldVideoID] != "clip" {
		t.Errorf("fields = %v", m)
	}
	if m["message"] != "frame 3" {
		t.Errorf("message = %v", m["message"])
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != GetDefault() {
		t.Error("expected default logger")
	}
	if FromContext(nil) != GetDefault() {
		t.Error("expected default logger for nil context")
	}
}

func TestEntryAddsMetricFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf, "json").WithContext(context.Background())

	With(Fields{FieldFrames: 12}).WithDuration(1500 * time.Millisecond).WithStatus("completed").Info(ctx, "done")

	m := decodeLine(t, &buf)
	if m[FieldFrames] != float64(12) {
		t.Errorf("frames = %v", m[FieldFrames])
	}
	if m[FieldDurationMs] != float64(1500) {
		t.Errorf("duration_ms = %v", m[FieldDurationMs])
	}
	if m[FieldStatus] != "completed" {
		t.Errorf("status = %v", m[FieldStatus])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "warn", Output: &buf})

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn not logged")
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	newBufferLogger(&buf, "text").Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestCallerSkipsWrappers(t *testing.T) {
	tests := []struct {
		name string
		emit func(ctx context.Context, l *Logger)
	}{
		{name: "direct", emit: func(_ context.Context, l *Logger) { l.Info("x") }},
		{name: "with fields", emit: func(_ context.Context, l *Logger) { l.WithFields(Fields{"a": 1}).Warn("x") }},
		{name: "ctx helper", emit: func(ctx context.Context, _ *Logger) { CtxInfo(ctx, "x") }},
		{name: "entry", emit: func(ctx context.Context, _ *Logger) { With(Fields{}).WithCount(2).Info(ctx, "x") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := newBufferLogger(&buf, "json")
			tt.emit(l.WithContext(context.Background()), l)

			m := decodeLine(t, &buf)
			if file, _ := m["file"].(string); !strings.HasPrefix(file, "logger_test.go:") {
				t.Errorf("file = %q, want logger_test.go:<line>", file)
			}
			if fn, _ := m["func"].(string); !strings.Contains(fn, "TestCallerSkipsWrappers") {
				t.Errorf("func = %q, want the test closure", fn)
			}
		})
	}
}

func TestEnsureContext(t *testing.T) {
	var injected, scoped bytes.Buffer
	fallback := newBufferLogger(&injected, "json")

	ctx := EnsureContext(context.Background(), fallback)
	CtxInfo(ctx, "to fallback")
	if !strings.Contains(injected.String(), "to fallback") {
		t.Errorf("fallback logger not used: %q", injected.String())
	}

	req := newBufferLogger(&scoped, "json").WithContext(context.Background())
	if got := EnsureContext(req, fallback); FromContext(got) != FromContext(req) {
		t.Error("context logger was replaced")
	}

	bare := context.Background()
	if EnsureContext(bare, nil) != bare {
		t.Error("nil fallback changed the context")
	}
}
