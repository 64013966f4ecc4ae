package model

import (
	"errors"
	"testing"
	"time"
)

func TestTaskPatchKeepsOmittedFields(t *testing.T) {
	original := Task{ID: "t1", Title: "X", Priority: PriorityHigh, Status: StatusNotStarted, Subtasks: []Subtask{}}
	completed := StatusCompleted

	updated := TaskPatch{Status: &completed}.Apply(original)

	if updated.ID != "t1" || updated.Title != "X" || updated.Priority != PriorityHigh {
		t.Fatalf("expected untouched fields to survive, got %+v", updated)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("expected status Completed, got %q", updated.Status)
	}
	if updated.Subtasks == nil {
		t.Fatalf("expected subtasks to stay non-nil")
	}
}

func TestTaskPatchClearsDueDate(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	original := Task{ID: "t1", Title: "X", DueDate: &due}

	updated := TaskPatch{ClearDueDate: true}.Apply(original)
	if updated.DueDate != nil {
		t.Fatalf("expected due date to be cleared")
	}
	if original.DueDate == nil {
		t.Fatalf("expected original task to be unchanged")
	}
}

func TestValidateRejectsBlankTitle(t *testing.T) {
	err := Task{Title: "   "}.Validate()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := (Task{Title: "ok", Status: "nope"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestParseStatusIsCaseInsensitive(t *testing.T) {
	status, err := ParseStatus("startedworking")
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if status != StatusStartedWorking {
		t.Fatalf("expected StartedWorking, got %q", status)
	}
}

func TestNextStatusWraps(t *testing.T) {
	if next := NextStatus(StatusCompleted); next != StatusNotStarted {
		t.Fatalf("expected wrap to NotStarted, got %q", next)
	}
	if next := NextStatus(StatusNotStarted); next != StatusPending {
		t.Fatalf("expected Pending, got %q", next)
	}
}

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	tasks := []Task{
		{Status: StatusCompleted, DueDate: &past},
		{Status: StatusStartedWorking, DueDate: &past},
		{Status: StatusPending},
		{Status: StatusCompleted},
	}

	summary := Summarize(tasks, now)
	if summary.Total != 4 {
		t.Fatalf("expected total 4, got %d", summary.Total)
	}
	if summary.ByStatus[StatusCompleted] != 2 {
		t.Fatalf("expected 2 completed, got %d", summary.ByStatus[StatusCompleted])
	}
	if summary.Overdue != 1 {
		t.Fatalf("expected 1 overdue, got %d", summary.Overdue)
	}
	if summary.Efficiency != 50 {
		t.Fatalf("expected efficiency 50, got %d", summary.Efficiency)
	}
	if empty := Summarize(nil, now); empty.Efficiency != 100 {
		t.Fatalf("expected empty efficiency 100, got %d", empty.Efficiency)
	}
}
