package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriterTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "memtimeline", slog.LevelWarn)
	log.Info("dropped")
	log.Warn("kept", "key", "value")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record should be filtered: %s", out)
	}
	if !strings.Contains(out, `"service":"memtimeline"`) || !strings.Contains(out, `"key":"value"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
