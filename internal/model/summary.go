package model

import "time"

type Summary struct {
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"byStatus"`
	Overdue    int            `json:"overdue"`
	Efficiency int            `json:"efficiency"`
}

// Summarize counts tasks per status. Efficiency is the completed share as a
// whole percentage; an empty set counts as fully efficient.
func Summarize(tasks []Task, now time.Time) Summary {
	summary := Summary{Total: len(tasks), ByStatus: make(map[Status]int, len(Statuses))}
	for _, status := range Statuses {
		summary.ByStatus[status] = 0
	}
	for _, task := range tasks {
		summary.ByStatus[task.Status]++
		if task.Status != StatusCompleted && task.DueDate != nil && task.DueDate.Before(now) {
			summary.Overdue++
		}
	}
	if summary.Total == 0 {
		summary.Efficiency = 100
		return summary
	}
	summary.Efficiency = summary.ByStatus[StatusCompleted] * 100 / summary.Total
	return summary
}
