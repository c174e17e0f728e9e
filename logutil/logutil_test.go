package logutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)
	logger.Log(t.Context(), LevelTrace, "buffer allocated", "size", 16)

	out := buf.String()
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("expected TRACE level label, got %q", out)
	}
	if !strings.Contains(out, "source=logutil_test.go:") {
		t.Errorf("expected shortened source path, got %q", out)
	}
}

func TestTraceDisabledAtInfo(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	slog.SetDefault(NewLogger(&buf, slog.LevelInfo))
	Trace("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got %q", buf.String())
	}

	slog.SetDefault(NewLogger(&buf, LevelTrace))
	Trace("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected trace output, got %q", buf.String())
	}
}
