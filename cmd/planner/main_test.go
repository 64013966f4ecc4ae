package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Joseda-hg/planner/internal/config"
	"github.com/Joseda-hg/planner/internal/model"
)

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "config.json")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, dir, args...)
	if err != nil {
		t.Fatalf("planner %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// idAfter returns the word following prefix on the first matching line.
func idAfter(t *testing.T, out, prefix string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			fields := strings.Fields(rest)
			if len(fields) > 0 {
				return fields[0]
			}
		}
	}
	t.Fatalf("no %q line in output:\n%s", prefix, out)
	return ""
}

func TestTaskLifecycle(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "task", "add", "Write", "report", "--desc", "Quarterly **numbers**", "--priority", "high")
	id := idAfter(t, out, "Created task ")

	out = mustRun(t, dir, "task", "list")
	if !strings.Contains(out, id) || !strings.Contains(out, "Write report") {
		t.Fatalf("expected task in list:\n%s", out)
	}

	out = mustRun(t, dir, "task", "show", id, "--raw")
	for _, want := range []string{"# Write report", "Quarterly **numbers**", "High priority", "page My Tasks"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in markdown:\n%s", want, out)
		}
	}
	out = mustRun(t, dir, "task", "show", id)
	if !strings.Contains(out, "Write report") {
		t.Fatalf("expected rendered title:\n%s", out)
	}

	out = mustRun(t, dir, "task", "status", id, "next")
	if !strings.Contains(out, string(model.StatusPending)) {
		t.Fatalf("expected pending status:\n%s", out)
	}
	mustRun(t, dir, "task", "status", id, "completed")

	out = mustRun(t, dir, "stats")
	if !strings.Contains(out, "100%") {
		t.Fatalf("expected full efficiency:\n%s", out)
	}

	out = mustRun(t, dir, "task", "list", "--status", "completed", "--all-pages")
	if !strings.Contains(out, id) {
		t.Fatalf("expected completed task across pages:\n%s", out)
	}

	mustRun(t, dir, "task", "rm", id)
	out = mustRun(t, dir, "task", "list")
	if !strings.Contains(out, "No tasks") {
		t.Fatalf("expected empty list:\n%s", out)
	}
}

func TestPageSelectionPersists(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "page", "add", "Work")
	pageID := idAfter(t, out, "Created page ")
	mustRun(t, dir, "page", "select", "work")

	out = mustRun(t, dir, "page", "list")
	if !strings.Contains(out, "* "+pageID) {
		t.Fatalf("expected Work to be marked selected:\n%s", out)
	}

	mustRun(t, dir, "task", "add", "Ship release")
	out = mustRun(t, dir, "task", "list")
	if !strings.Contains(out, "Ship release") {
		t.Fatalf("expected task on the selected page:\n%s", out)
	}

	out = mustRun(t, dir, "--page", "My Tasks", "task", "list")
	if !strings.Contains(out, "No tasks") {
		t.Fatalf("expected default page to be empty:\n%s", out)
	}

	mustRun(t, dir, "page", "rename", "Work", "Office", "--color", "#10b981")
	out = mustRun(t, dir, "page", "list")
	if !strings.Contains(out, "Office") || !strings.Contains(out, "#10b981") {
		t.Fatalf("expected renamed page:\n%s", out)
	}

	mustRun(t, dir, "page", "rm", "Office")
	out = mustRun(t, dir, "page", "list")
	if strings.Contains(out, "Office") {
		t.Fatalf("expected page to be removed:\n%s", out)
	}
	if !strings.Contains(out, "* 1") {
		t.Fatalf("expected default page to be selected again:\n%s", out)
	}
}

func TestSubtaskCommands(t *testing.T) {
	dir := t.TempDir()
	taskID := idAfter(t, mustRun(t, dir, "task", "add", "Launch"), "Created task ")

	out := mustRun(t, dir, "task", "subtask", "add", taskID, "Draft", "outline")
	subtaskID := idAfter(t, out, "Added subtask ")

	out = mustRun(t, dir, "task", "subtask", "done", taskID, subtaskID)
	if !strings.Contains(out, "[1/1]") {
		t.Fatalf("expected completed checklist:\n%s", out)
	}

	out = mustRun(t, dir, "task", "show", taskID, "--raw")
	if !strings.Contains(out, "- [x] Draft outline") {
		t.Fatalf("expected checked subtask:\n%s", out)
	}

	mustRun(t, dir, "task", "subtask", "rm", taskID, subtaskID)
	out = mustRun(t, dir, "task", "show", taskID, "--raw")
	if strings.Contains(out, "Draft outline") {
		t.Fatalf("expected subtask to be removed:\n%s", out)
	}
}

func TestTaskImageStoresFile(t *testing.T) {
	dir := t.TempDir()
	taskID := idAfter(t, mustRun(t, dir, "task", "add", "Logo"), "Created task ")

	imagePath := filepath.Join(dir, "logo.png")
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	if err := os.WriteFile(imagePath, png, 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}

	out := mustRun(t, dir, "task", "image", taskID, imagePath)
	imageURL := idAfter(t, out, "Attached ")
	if !strings.HasPrefix(imageURL, "/uploads/") {
		t.Fatalf("unexpected image url %q", imageURL)
	}
	stored := filepath.Join(dir, "uploads", strings.TrimPrefix(imageURL, "/uploads/"))
	if _, err := os.Stat(stored); err != nil {
		t.Fatalf("expected stored image: %v", err)
	}

	mustRun(t, dir, "task", "rm", taskID)
	if _, err := os.Stat(stored); !os.IsNotExist(err) {
		t.Fatalf("expected image to be removed with the task, got %v", err)
	}
}

func TestTaskImageRejectsNonImage(t *testing.T) {
	dir := t.TempDir()
	taskID := idAfter(t, mustRun(t, dir, "task", "add", "Notes"), "Created task ")

	textPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(textPath, []byte("plain text"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := runCLI(t, dir, "task", "image", taskID, textPath); err == nil {
		t.Fatalf("expected non-image upload to fail")
	}
}

func TestInvalidInputIsValidationError(t *testing.T) {
	dir := t.TempDir()

	if _, err := runCLI(t, dir, "task", "add", "Bad", "--status", "later"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for status, got %v", err)
	}
	if _, err := runCLI(t, dir, "task", "add", "Bad", "--due", "tomorrow"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for due date, got %v", err)
	}
	if _, err := runCLI(t, dir, "page", "add", "   "); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for page name, got %v", err)
	}
}

func TestUnknownPageFlagFails(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, dir, "--page", "Nope", "task", "list")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected page not found, got %v", err)
	}
}

func TestFlagsAreSavedToConfig(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "tasks.db")

	mustRun(t, dir, "--db", dbPath, "--port", "9191", "stats")

	cfg, err := config.Load(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBPath != dbPath || cfg.WebPort != 9191 {
		t.Fatalf("unexpected saved config %+v", cfg)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected database at %s: %v", dbPath, err)
	}
}
