package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, slog.LevelInfo))
	logger.Info("block processed", slog.Uint64("height", 7))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "block processed" {
		t.Fatalf("unexpected message: %v", line["message"])
	}
	if line["severity"] != "INFO" {
		t.Fatalf("unexpected severity: %v", line["severity"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
}

func TestHandlerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, ParseLevel("warn")))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info line to be filtered, got %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("expected warn line to be written")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestMaskFieldRedactsUnlessAllowlisted(t *testing.T) {
	if attr := MaskField("signer_key", "secret"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected signer key to be redacted, got %q", attr.Value.String())
	}
	if attr := MaskField("reason", "deadline"); attr.Value.String() != "deadline" {
		t.Fatalf("expected allowlisted key to pass through, got %q", attr.Value.String())
	}
	if attr := MaskField("token", " "); attr.Value.String() != " " {
		t.Fatalf("expected empty value to pass through")
	}
}
