package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriter(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, "info", "json")
		logger.Info("evaluated", "tx_id", "tx-1")

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
		}
		if line["tx_id"] != "tx-1" {
			t.Errorf("expected tx_id attribute, got %v", line)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "info", "text").Info("evaluated", "tx_id", "tx-2")
		if !strings.Contains(buf.String(), "tx_id=tx-2") {
			t.Errorf("expected text output, got %q", buf.String())
		}
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "error", "json").Warn("ignored")
		if buf.Len() != 0 {
			t.Errorf("expected warn to be filtered, got %q", buf.String())
		}
	})
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" {
		t.Error("expected empty request id")
	}

	ctx = WithRequestID(ctx, "req-42")
	if RequestID(ctx) != "req-42" {
		t.Errorf("expected req-42, got %q", RequestID(ctx))
	}
	if L(ctx) == nil {
		t.Error("expected logger")
	}
}
