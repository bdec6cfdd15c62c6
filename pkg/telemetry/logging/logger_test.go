package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"permafrost-hq/permafrost/pkg/config"
)

func TestSetupWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := SetupWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("SetupWithWriter() failed: %v", err)
	}

	logger.Info("archive sweep", "kb", "project-kb", "migrated", 3)
	logger.Debug("suppressed at info level")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["msg"] != "archive sweep" || entry["kb"] != "project-kb" {
		t.Errorf("Unexpected log entry: %v", entry)
	}
}

func TestSetupWithWriter_TextAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := SetupWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("SetupWithWriter() failed: %v", err)
	}

	logger.Debug("verbose detail")
	if !strings.Contains(buf.String(), "verbose detail") {
		t.Errorf("Debug line missing from text output: %q", buf.String())
	}
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Error("Expected text format, got JSON")
	}
}

func TestSetup_InstallsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if _, err := SetupWithWriter(config.LoggingConfig{}, &buf); err != nil {
		t.Fatalf("SetupWithWriter() failed: %v", err)
	}

	slog.Default().With("component", "retention.test").Info("component log")
	if !strings.Contains(buf.String(), "retention.test") {
		t.Errorf("Default logger not installed: %q", buf.String())
	}
}

func TestSetup_InvalidConfig(t *testing.T) {
	if _, err := SetupWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("Expected error for invalid level")
	}
	if _, err := SetupWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("Expected error for invalid format")
	}
}
