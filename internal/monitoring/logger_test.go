package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	logger, err := NewLogger(LogConfig{
		Level:      "info",
		Format:     "json",
		Output:     OutputFile,
		FilePath:   logPath,
		MaxSizeMB:  10,
		MaxBackups: 2,
		MaxAgeDays: 7,
		Version:    "9.9.9",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Debug("filtered out")
	logger.Info("test message", zap.String("song_id", "s1"))
	logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Log file was not created: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one entry above the level, got %d", len(lines))
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON entry: %v", err)
	}
	if entry["version"] != "9.9.9" || entry["song_id"] != "s1" {
		t.Errorf("Unexpected entry %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("Expected a timestamp field")
	}
}

func TestNewLoggerErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  LogConfig
	}{
		{"invalid level", LogConfig{Level: "loud", Output: OutputConsole}},
		{"file without path", LogConfig{Level: "info", Output: OutputFile}},
		{"unknown output", LogConfig{Level: "info", Output: "syslog"}},
		{"unknown format", LogConfig{Level: "info", Format: "xml", Output: OutputConsole}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLogger(tt.cfg); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestNewLoggerConsole(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "console", Output: OutputConsole})
	if err != nil {
		t.Fatalf("Failed to create console logger: %v", err)
	}
	logger.Debug("debug message")
}

func TestWithoutConsole(t *testing.T) {
	tests := []struct {
		name     string
		cfg      LogConfig
		expected string
	}{
		{"both keeps the file", LogConfig{Output: OutputBoth, FilePath: "a.log"}, OutputFile},
		{"console with a file", LogConfig{Output: OutputConsole, FilePath: "a.log"}, OutputFile},
		{"console only", LogConfig{Output: OutputConsole}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.WithoutConsole().Output; got != tt.expected {
				t.Errorf("WithoutConsole().Output = %q, want %q", got, tt.expected)
			}
		})
	}

	logger, err := NewLogger(LogConfig{Level: "info", Output: OutputConsole}.WithoutConsole())
	if err != nil {
		t.Fatalf("Expected a silent logger, got %v", err)
	}
	logger.Info("dropped")
}

func TestNamed(t *testing.T) {
	if Named(nil, "cache") == nil {
		t.Fatal("Named(nil) returned nil")
	}

	core, logs := observer.New(zap.InfoLevel)
	Named(zap.New(core), "download").Info("named logger")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected one entry, got %d", len(entries))
	}
	if entries[0].LoggerName != "download" {
		t.Errorf("LoggerName = %q, want download", entries[0].LoggerName)
	}
	if entries[0].ContextMap()["component"] != "download" {
		t.Errorf("Expected component field, got %v", entries[0].ContextMap())
	}
}
