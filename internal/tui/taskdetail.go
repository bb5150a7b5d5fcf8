package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// renderTaskDetail builds the detail view content for the viewport.
func (a *App) renderTaskDetail() string {
	t := a.currentTask
	if t == nil {
		return "Loading task details..."
	}

	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("Task #%d", t.TaskID)))
	b.WriteString("\n\n")

	b.WriteString(renderField("Status", formatStatus(t.Status)))
	b.WriteString(renderField("Service", fmt.Sprintf("%d", t.ServiceID)))
	b.WriteString(renderField("Buyer", t.Buyer))
	b.WriteString(renderField("Amount", t.Amount.String()))
	if t.ResultHash != "" {
		b.WriteString(renderField("Result", t.ResultHash))
	}
	b.WriteString(renderField("Created", formatTime(t.CreatedAt)))
	b.WriteString(renderField("Updated", formatTime(t.UpdatedAt)))
	if t.CompletedAt != nil {
		b.WriteString(renderField("Completed", formatTime(*t.CompletedAt)))
	}
	if t.RefundedAt != nil {
		b.WriteString(renderField("Refunded", formatTime(*t.RefundedAt)))
	}

	if len(a.decisions) > 0 {
		b.WriteString(sectionStyle.Render("Decisions"))
		b.WriteString("\n")
		for _, d := range a.decisions {
			outcome := lipgloss.NewStyle().Foreground(successColor).Render(d.Outcome)
			if d.Outcome != "success" {
				outcome = lipgloss.NewStyle().Foreground(errorColor).Render(d.Outcome)
			}
			line := fmt.Sprintf("  %s  %-16s %s by %s", d.Timestamp.Local().Format("15:04:05"), d.Action, outcome, shorten(d.Caller, 18))
			b.WriteString(line + "\n")
			if d.Details != "" {
				b.WriteString(helpStyle.Render("    → "+truncate(d.Details, 80)) + "\n")
			}
		}
	}

	b.WriteString("\n" + helpStyle.Render("Commands: start | complete [hash] | refund") + "\n")
	return b.String()
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label+":")), valueStyle.Render(value))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
