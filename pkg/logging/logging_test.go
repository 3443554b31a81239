package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelWarn, &buf)

	Debug("Test", "debug message")
	Info("Test", "info message")
	Warn("Test", "warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("Messages below filter level were emitted: %s", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("Expected warn message in output, got: %s", out)
	}
}

func TestErrorIncludesErr(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Error("Test", errTest, "something failed")

	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("Expected error attribute in output, got: %s", buf.String())
	}
}

var errTest = errBoom{}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestTruncateSecret(t *testing.T) {
	if got := TruncateSecret("abcdefghijkl"); got != "abcdefgh..." {
		t.Errorf("TruncateSecret long = %q", got)
	}
	if got := TruncateSecret("short"); got != "short" {
		t.Errorf("TruncateSecret short = %q", got)
	}
	if got := TruncateSecret(""); got != "" {
		t.Errorf("TruncateSecret empty = %q", got)
	}
}
