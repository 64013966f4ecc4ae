package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Joseda-hg/planner/internal/model"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))

	statusColors = map[model.Status]lipgloss.Color{
		model.StatusNotStarted:     lipgloss.Color("#9ca3af"),
		model.StatusPending:        lipgloss.Color("#f59e0b"),
		model.StatusStartedWorking: lipgloss.Color("#3b82f6"),
		model.StatusCompleted:      lipgloss.Color("#10b981"),
	}
	priorityColors = map[model.Priority]lipgloss.Color{
		model.PriorityLow:    lipgloss.Color("#9ca3af"),
		model.PriorityMedium: lipgloss.Color("#f59e0b"),
		model.PriorityHigh:   lipgloss.Color("#ef4444"),
	}
)

func statusLabel(status model.Status) string {
	return lipgloss.NewStyle().Foreground(statusColors[status]).Render(fmt.Sprintf("%-14s", status))
}

func priorityLabel(priority model.Priority) string {
	return lipgloss.NewStyle().Foreground(priorityColors[priority]).Render(fmt.Sprintf("%-6s", priority))
}

func pageLabel(p model.Page) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(p.Color)).Bold(true).Render(p.Name)
}

func dueLabel(task model.Task) string {
	if task.DueDate == nil {
		return ""
	}
	label := "due " + humanize.Time(*task.DueDate)
	if task.Status != model.StatusCompleted && task.DueDate.Before(now()) {
		return overdueStyle.Render(label)
	}
	return mutedStyle.Render(label)
}

func printTask(w io.Writer, task model.Task) {
	line := fmt.Sprintf("%s  %s %s %s", task.ID, statusLabel(task.Status), priorityLabel(task.Priority), task.Title)
	if len(task.Subtasks) > 0 {
		done := 0
		for _, subtask := range task.Subtasks {
			if subtask.Completed {
				done++
			}
		}
		line += mutedStyle.Render(fmt.Sprintf(" [%d/%d]", done, len(task.Subtasks)))
	}
	if due := dueLabel(task); due != "" {
		line += "  " + due
	}
	fmt.Fprintln(w, line)
}

func printTasks(w io.Writer, list []model.Task) {
	if len(list) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No tasks"))
		return
	}
	for _, task := range list {
		printTask(w, task)
	}
}

// taskMarkdown renders a task as a markdown document for the terminal.
func taskMarkdown(task model.Task, pageName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", task.Title)
	fmt.Fprintf(&b, "**%s** · %s priority · page %s\n\n", task.Status, task.Priority, pageName)
	if task.DueDate != nil {
		fmt.Fprintf(&b, "Due %s (%s)\n\n", task.DueDate.Format("2006-01-02"), humanize.Time(*task.DueDate))
	}
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", task.Description)
	}
	if task.ImageURL != "" {
		fmt.Fprintf(&b, "Image: `%s`\n\n", task.ImageURL)
	}
	if len(task.Subtasks) > 0 {
		b.WriteString("## Subtasks\n\n")
		for _, subtask := range task.Subtasks {
			check := " "
			if subtask.Completed {
				check = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s `%s`\n", check, subtask.Title, subtask.ID)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "_id %s · v%d · created %s_\n", task.ID, task.Version, humanize.Time(task.CreatedAt))
	return b.String()
}

func renderMarkdown(md string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}

func printSummary(w io.Writer, p model.Page, summary model.Summary) {
	fmt.Fprintln(w, headerStyle.Render("Page ")+pageLabel(p))
	for _, status := range model.Statuses {
		fmt.Fprintf(w, "  %s %d\n", statusLabel(status), summary.ByStatus[status])
	}
	fmt.Fprintf(w, "  %-14s %d\n", "Total", summary.Total)
	overdue := fmt.Sprintf("%d", summary.Overdue)
	if summary.Overdue > 0 {
		overdue = overdueStyle.Render(overdue)
	}
	fmt.Fprintf(w, "  %-14s %s\n", "Overdue", overdue)
	fmt.Fprintf(w, "  %-14s %d%%\n", "Efficiency", summary.Efficiency)
}
