package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	if err := Init("debug", path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("hello from test", "k", "v")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file missing expected message, got: %s", data)
	}
}

func TestInitUnknownLevelDefaultsToDebug(t *testing.T) {
	if err := Init("nonsense", ""); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !Log.Enabled(nil, -4) { // slog.LevelDebug
		t.Error("expected debug level to be enabled for an unrecognized level string")
	}
}
