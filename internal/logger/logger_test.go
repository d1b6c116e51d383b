package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, "")

	l.Debug("debug msg")
	l.Info("info msg")
	l.Warn("warn msg")
	l.Error("error msg")

	out := buf.String()
	if strings.Contains(out, "debug msg") || strings.Contains(out, "info msg") {
		t.Errorf("messages below min level were logged: %q", out)
	}
	if !strings.Contains(out, "warn msg") || !strings.Contains(out, "error msg") {
		t.Errorf("messages at or above min level missing: %q", out)
	}
}

func TestLoggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, "llm")

	l.Info("request sent")
	if !strings.Contains(buf.String(), "[llm]") {
		t.Errorf("prefix missing from output: %q", buf.String())
	}
}

func TestLoggerFormatting(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, "")

	l.Info("iteration %d of %d", 3, 10)
	if !strings.Contains(buf.String(), "iteration 3 of 10") {
		t.Errorf("formatted output missing: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "INFO") {
		t.Errorf("level name missing: %q", buf.String())
	}
}

func TestSetLevelFromString(t *testing.T) {
	defer SetLevel(LevelInfo)

	SetLevelFromString("error")
	if console.minLevel != LevelError {
		t.Errorf("minLevel = %v, want error", console.minLevel)
	}

	// Unknown names must not reset the level
	SetLevelFromString("chatty")
	if console.minLevel != LevelError {
		t.Errorf("minLevel = %v after unknown name, want error", console.minLevel)
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
