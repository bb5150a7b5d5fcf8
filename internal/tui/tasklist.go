package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/computemarket/cmkt/internal/models"
)

var statusFilters = []string{"", "created", "running", "completed", "refunded"}
var statusFilterNames = []string{"ALL", "CREATED", "RUNNING", "DONE", "REFUNDED"}

func (a *App) renderTaskList(height int) string {
	if a.loading {
		return "\n  Loading tasks...\n"
	}
	if len(a.tasks) == 0 {
		return "\n  No tasks found. Type: buy <service> <payment> to create one.\n"
	}

	var lines []string
	for i, task := range a.tasks {
		summary := fmt.Sprintf("#%-5d svc %-4d %12s  %s", task.TaskID, task.ServiceID, task.Amount, shorten(task.Buyer, 18))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s  %s", formatStatusPlain(task.Status), summary)))
		} else {
			lines = append(lines, taskItemStyle.Render(fmt.Sprintf("  %s  %s", formatStatus(task.Status), summary)))
		}
	}

	// Keep the selection in view
	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}

func formatStatus(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCreated:
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ CREATED  ")
	case models.TaskStatusRunning:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑ RUNNING  ")
	case models.TaskStatusCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE     ")
	case models.TaskStatusRefunded:
		return lipgloss.NewStyle().Foreground(errorColor).Render("↺ REFUNDED ")
	default:
		return string(status)
	}
}

func formatStatusPlain(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCreated:
		return "○"
	case models.TaskStatusRunning:
		return "◑"
	case models.TaskStatusCompleted:
		return "●"
	case models.TaskStatusRefunded:
		return "↺"
	default:
		return "?"
	}
}

// shorten keeps the head and tail of long principals.
func shorten(s string, n int) string {
	if len(s) <= n || n < 5 {
		return s
	}
	head := (n - 1) / 2
	tail := n - 1 - head
	return s[:head] + "…" + s[len(s)-tail:]
}
