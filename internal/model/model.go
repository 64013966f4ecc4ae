package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrValidation = errors.New("validation error")

type Status string

const (
	StatusNotStarted     Status = "NotStarted"
	StatusPending        Status = "Pending"
	StatusStartedWorking Status = "StartedWorking"
	StatusCompleted      Status = "Completed"
)

// Statuses lists every status in board column order.
var Statuses = []Status{StatusNotStarted, StatusPending, StatusStartedWorking, StatusCompleted}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	PageID      string     `json:"pageId"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Subtasks    []Subtask  `json:"subtasks"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Version     int64      `json:"version"`
}

type Subtask struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

type Page struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// TaskPatch carries a partial update; nil fields are left untouched.
type TaskPatch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	Priority     *Priority  `json:"priority,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
	PageID       *string    `json:"pageId,omitempty"`
	ImageURL     *string    `json:"imageUrl,omitempty"`
	Subtasks     *[]Subtask `json:"subtasks,omitempty"`
}

type PagePatch struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}

type Filter struct {
	PageID   string   `json:"page_id"`
	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`
	Query    string   `json:"query"`
}

func ParseStatus(value string) (Status, error) {
	trimmed := strings.TrimSpace(value)
	for _, status := range Statuses {
		if strings.EqualFold(string(status), trimmed) {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, value)
}

func ParsePriority(value string) (Priority, error) {
	trimmed := strings.TrimSpace(value)
	for _, priority := range Priorities {
		if strings.EqualFold(string(priority), trimmed) {
			return priority, nil
		}
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrValidation, value)
}

// NextStatus returns the status after current in board order, wrapping around.
func NextStatus(current Status) Status {
	for i, status := range Statuses {
		if status == current {
			return Statuses[(i+1)%len(Statuses)]
		}
	}
	return StatusNotStarted
}

func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	return nil
}

// Validate checks the enum fields; empty values are allowed and mean "use default".
func (t Task) Validate() error {
	if err := ValidateTitle(t.Title); err != nil {
		return err
	}
	if t.Status != "" {
		if _, err := ParseStatus(string(t.Status)); err != nil {
			return err
		}
	}
	if t.Priority != "" {
		if _, err := ParsePriority(string(t.Priority)); err != nil {
			return err
		}
	}
	return nil
}

// Normalize validates t and returns it with the enum fields in their
// canonical spelling.
func (t Task) Normalize() (Task, error) {
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	if t.Status != "" {
		t.Status, _ = ParseStatus(string(t.Status))
	}
	if t.Priority != "" {
		t.Priority, _ = ParsePriority(string(t.Priority))
	}
	return t, nil
}

// Apply merges the non-nil patch fields onto a copy of t. ID, CreatedAt and
// Version are never touched.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.ClearDueDate {
		t.DueDate = nil
	}
	if p.PageID != nil {
		t.PageID = *p.PageID
	}
	if p.ImageURL != nil {
		t.ImageURL = *p.ImageURL
	}
	if p.Subtasks != nil {
		t.Subtasks = make([]Subtask, len(*p.Subtasks))
		copy(t.Subtasks, *p.Subtasks)
	}
	return t
}

func (p PagePatch) Apply(page Page) Page {
	if p.Name != nil {
		page.Name = *p.Name
	}
	if p.Color != nil {
		page.Color = *p.Color
	}
	return page
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Task) Clone() Task {
	if t.DueDate != nil {
		due := *t.DueDate
		t.DueDate = &due
	}
	if t.Subtasks != nil {
		subtasks := make([]Subtask, len(t.Subtasks))
		copy(subtasks, t.Subtasks)
		t.Subtasks = subtasks
	}
	return t
}
