package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Joseda-hg/planner/internal/model"
	"github.com/dustin/go-humanize"
)

var now = time.Now

func formatTaskSummary(task model.Task) string {
	parts := []string{task.Title, priorityBadge(task.Priority)}
	if len(task.Subtasks) > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d", completedSubtasks(task), len(task.Subtasks)))
	}
	if task.DueDate != nil {
		due := "due " + humanize.Time(*task.DueDate)
		if isOverdue(task) {
			due = "\x1b[31m" + due + "\x1b[0m"
		}
		parts = append(parts, due)
	}
	return strings.Join(parts, " | ")
}

// detailsHeaderLines is the number of lines formatTaskDetails prints
// before the first subtask.
func detailsHeaderLines(task model.Task) int {
	lines := 5
	if task.Description != "" {
		lines++
	}
	if task.ImageURL != "" {
		lines++
	}
	return lines
}

func formatTaskDetails(task model.Task, selectedSubtask int, focused bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n", task.Description)
	}
	fmt.Fprintf(&b, "Status: %s | Priority: %s\n", task.Status, task.Priority)
	due := "none"
	if task.DueDate != nil {
		due = fmt.Sprintf("%s (%s)", task.DueDate.In(time.Local).Format(dueLayout), humanize.Time(*task.DueDate))
	}
	fmt.Fprintf(&b, "Due: %s\n", due)
	if task.ImageURL != "" {
		fmt.Fprintf(&b, "Image: %s\n", task.ImageURL)
	}
	fmt.Fprintf(&b, "Created %s | v%d\n", humanize.Time(task.CreatedAt), task.Version)
	fmt.Fprintf(&b, "Subtasks (%d/%d):\n", completedSubtasks(task), len(task.Subtasks))
	for i, subtask := range task.Subtasks {
		prefix := " "
		if focused && i == selectedSubtask {
			prefix = ">"
		}
		check := "[ ]"
		if subtask.Completed {
			check = "[x]"
		}
		fmt.Fprintf(&b, "%s %s %s\n", prefix, check, subtask.Title)
	}
	return b.String()
}

func priorityBadge(priority model.Priority) string {
	switch priority {
	case model.PriorityHigh:
		return "\x1b[31m!!!\x1b[0m"
	case model.PriorityMedium:
		return "\x1b[33m!!\x1b[0m"
	default:
		return "!"
	}
}

func completedSubtasks(task model.Task) int {
	count := 0
	for _, subtask := range task.Subtasks {
		if subtask.Completed {
			count++
		}
	}
	return count
}

func isOverdue(task model.Task) bool {
	return task.Status != model.StatusCompleted && task.DueDate != nil && task.DueDate.Before(now())
}

// filterTasks keeps the tasks whose title or description contains query,
// ignoring case.
func filterTasks(tasks []model.Task, query string) []model.Task {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return tasks
	}
	filtered := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		if strings.Contains(strings.ToLower(task.Title), query) || strings.Contains(strings.ToLower(task.Description), query) {
			filtered = append(filtered, task)
		}
	}
	return filtered
}

func groupByStatus(tasks []model.Task) map[model.Status][]model.Task {
	columns := make(map[model.Status][]model.Task, len(model.Statuses))
	for _, task := range tasks {
		columns[task.Status] = append(columns[task.Status], task)
	}
	return columns
}

var basicColors = []struct {
	code    int
	r, g, b int
}{
	{31, 0xcd, 0x31, 0x31},
	{32, 0x0d, 0xbc, 0x79},
	{33, 0xe5, 0xe5, 0x10},
	{34, 0x24, 0x72, 0xc8},
	{35, 0xbc, 0x3f, 0xbc},
	{36, 0x11, 0xa8, 0xcd},
}

// colorize wraps text in the basic ANSI color nearest to the #rrggbb hex.
// Unparseable colors leave text unchanged.
func colorize(hex, text string) string {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return text
	}
	value, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return text
	}
	r, g, b := int(value>>16&0xff), int(value>>8&0xff), int(value&0xff)

	best, bestDistance := 0, -1
	for _, color := range basicColors {
		dr, dg, db := r-color.r, g-color.g, b-color.b
		distance := dr*dr + dg*dg + db*db
		if bestDistance < 0 || distance < bestDistance {
			best, bestDistance = color.code, distance
		}
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", best, text)
}
