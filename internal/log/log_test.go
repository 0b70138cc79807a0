package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithWriterTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})

	logger.Debug("starting turn", "conversation_id", "abc")

	out := buf.String()
	if !strings.Contains(out, "starting turn") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "conversation_id=abc") {
		t.Errorf("expected attribute in output, got %q", out)
	}
}

func TestNewWithWriterJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{JSON: true})

	logger.Info("settled")

	out := buf.String()
	if !strings.Contains(out, `"msg":"settled"`) {
		t.Errorf("expected JSON output, got %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelWarn})

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level, got %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn message missing, got %q", out)
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	// Must not panic and must accept all levels.
	logger.Debug("a")
	logger.Info("b")
	logger.Warn("c")
	logger.Error("d")
}
