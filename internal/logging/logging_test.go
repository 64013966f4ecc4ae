package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.log")
	logger, err := New("debug", path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Debug("reload finished")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "reload finished") {
		t.Fatalf("expected debug record in log, got %q", data)
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.log")
	logger, err := New("warn", path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Fatalf("unexpected log contents %q", data)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty", ""); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
