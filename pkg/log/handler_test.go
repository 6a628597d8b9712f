package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestFormatterHandlerText(t *testing.T) {
	var buf bytes.Buffer
	h := NewFormatterHandler(&buf, slog.LevelInfo, &TextFormatter{})
	l := NewWithHandler(h).Module("statemachine")
	l.Info("block committed", "height", 42)

	out := buf.String()
	if !strings.Contains(out, "INFO") {
		t.Fatalf("expected INFO in output, got %q", out)
	}
	if !strings.Contains(out, "block committed") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "height=42") {
		t.Fatalf("expected height=42 in output, got %q", out)
	}
	if !strings.Contains(out, "module=statemachine") {
		t.Fatalf("expected module attr in output, got %q", out)
	}
}

func TestFormatterHandlerColor(t *testing.T) {
	var buf bytes.Buffer
	h := NewFormatterHandler(&buf, slog.LevelWarn, &ColorFormatter{})
	l := NewWithHandler(h)
	l.Warn("low disk space")

	out := buf.String()
	if !strings.Contains(out, ansiYellow) {
		t.Fatalf("expected WARN color escape in output, got %q", out)
	}
	if !strings.Contains(out, "low disk space") {
		t.Fatalf("expected message in output, got %q", out)
	}
}

func TestFormatterHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewFormatterHandler(&buf, slog.LevelWarn, &TextFormatter{})
	l := NewWithHandler(h)
	l.Debug("should be dropped")
	l.Info("also dropped")

	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got %q", buf.String())
	}
}

func TestNewWithFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithFormat(slog.LevelInfo, &buf, "json")
	l.Info("hello", "k", "v")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "hello")
	}
}

func TestNewWithFormatText(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithFormat(slog.LevelInfo, &buf, "text")
	l.Info("hello")

	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected non-JSON text output, got %q", buf.String())
	}
}

func TestNewWithFormatUnknownFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithFormat(slog.LevelInfo, &buf, "nonsense")
	l.Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON fallback, got %q: %v", buf.String(), err)
	}
}

func TestParseFormat(t *testing.T) {
	for _, ok := range []string{"", "json", "text", "color"} {
		if _, err := ParseFormat(ok); err != nil {
			t.Errorf("ParseFormat(%q) unexpected error: %v", ok, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Errorf("ParseFormat(%q) expected error, got nil", "xml")
	}
}
