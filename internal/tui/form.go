package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Joseda-hg/planner/internal/model"
)

type formField struct {
	Label string
	Value string
	// cycle, when set, restricts the field to these values.
	cycle []string
}

const (
	fieldTitle = iota
	fieldDescription
	fieldStatus
	fieldPriority
	fieldDue
	fieldImage
)

const dueLayout = "2006-01-02"

func buildFormFields(task *model.Task) []formField {
	fields := []formField{
		{Label: "Title"},
		{Label: "Description"},
		{Label: "Status (space/←→)", cycle: statusValues()},
		{Label: "Priority (space/←→)", cycle: priorityValues()},
		{Label: "Due (YYYY-MM-DD)"},
		{Label: "Image URL"},
	}

	if task == nil {
		fields[fieldStatus].Value = string(model.StatusNotStarted)
		fields[fieldPriority].Value = string(model.PriorityMedium)
		return fields
	}

	fields[fieldTitle].Value = task.Title
	fields[fieldDescription].Value = task.Description
	fields[fieldStatus].Value = string(task.Status)
	fields[fieldPriority].Value = string(task.Priority)
	if task.DueDate != nil {
		fields[fieldDue].Value = task.DueDate.In(time.Local).Format(dueLayout)
	}
	fields[fieldImage].Value = task.ImageURL

	return fields
}

// parseFormFields turns the form into a patch that sets every editable
// field. An empty due date clears it.
func parseFormFields(fields []formField) (model.TaskPatch, error) {
	status, err := model.ParseStatus(fields[fieldStatus].Value)
	if err != nil {
		return model.TaskPatch{}, err
	}
	priority, err := model.ParsePriority(fields[fieldPriority].Value)
	if err != nil {
		return model.TaskPatch{}, err
	}
	due, err := parseDue(fields[fieldDue].Value)
	if err != nil {
		return model.TaskPatch{}, err
	}

	title := strings.TrimSpace(fields[fieldTitle].Value)
	description := strings.TrimSpace(fields[fieldDescription].Value)
	image := strings.TrimSpace(fields[fieldImage].Value)

	return model.TaskPatch{
		Title:        &title,
		Description:  &description,
		Status:       &status,
		Priority:     &priority,
		DueDate:      due,
		ClearDueDate: due == nil,
		ImageURL:     &image,
	}, nil
}

func parseDue(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.ParseInLocation(dueLayout, trimmed, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid due date %q", model.ErrValidation, trimmed)
	}
	return &parsed, nil
}

func taskFromPatch(patch model.TaskPatch) model.Task {
	return patch.Apply(model.Task{})
}

func cycleValue(values []string, current string, delta int) string {
	if len(values) == 0 {
		return current
	}
	index := 0
	for i, value := range values {
		if strings.EqualFold(value, current) {
			index = i
		}
	}
	index = (index + delta + len(values)) % len(values)
	return values[index]
}

func statusValues() []string {
	values := make([]string, 0, len(model.Statuses))
	for _, status := range model.Statuses {
		values = append(values, string(status))
	}
	return values
}

func priorityValues() []string {
	values := make([]string, 0, len(model.Priorities))
	for _, priority := range model.Priorities {
		values = append(values, string(priority))
	}
	return values
}
