package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (a *App) renderServices(height int) string {
	var b strings.Builder

	b.WriteString("\n  Registered Services\n")
	b.WriteString("  " + strings.Repeat("─", 50) + "\n\n")

	if len(a.services) == 0 {
		b.WriteString("  No services registered.\n")
		b.WriteString("  " + helpStyle.Render("Authority: register <service> <price>") + "\n")
		return b.String()
	}

	colStyle := lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
	b.WriteString(fmt.Sprintf("    %s  %s  %s\n",
		colStyle.Render(fmt.Sprintf("%-8s", "ID")),
		colStyle.Render(fmt.Sprintf("%-20s", "PRICE")),
		colStyle.Render(fmt.Sprintf("%-8s", "STATE")),
	))

	for i, svc := range a.services {
		if i >= max(height-6, 1) {
			b.WriteString(helpStyle.Render(fmt.Sprintf("    ... and %d more", len(a.services)-i)) + "\n")
			break
		}

		state := onlineStyle.Render(fmt.Sprintf("%-8s", "active"))
		if !svc.Active {
			state = offlineStyle.Render(fmt.Sprintf("%-8s", "inactive"))
		}
		row := fmt.Sprintf("%-8d  %-20s  ", svc.ServiceID, svc.Price)
		if i == a.serviceIdx {
			b.WriteString(selectedStyle.Render("▶ "+row) + state + "\n")
		} else {
			b.WriteString("    " + row + state + "\n")
		}
	}

	b.WriteString("\n  " + helpStyle.Render("Commands: buy <service> <payment> | register | price | deactivate") + "\n")
	return b.String()
}

func (a *App) renderEscrow(height int) string {
	var b strings.Builder

	b.WriteString("\n  Escrow\n")
	b.WriteString("  " + strings.Repeat("─", 50) + "\n\n")

	if a.escrow == nil {
		b.WriteString("  Loading...\n")
		return b.String()
	}

	r := a.escrow.Report
	holds := onlineStyle.Render("✓ balance matches held tasks")
	if !r.Holds {
		holds = offlineStyle.Render("✗ balance does not match held tasks")
	}

	boldStyle := lipgloss.NewStyle().Bold(true).Foreground(fgColor)
	b.WriteString(fmt.Sprintf("  Balance:    %s\n", boldStyle.Render(r.EscrowBalance.String())))
	b.WriteString(fmt.Sprintf("  Held:       %s over %d task(s)\n", r.HeldTotal, r.HeldTasks))
	b.WriteString(fmt.Sprintf("  Invariant:  %s\n", holds))
	b.WriteString(fmt.Sprintf("  Authority:  %s\n", a.escrow.Authority))
	b.WriteString(fmt.Sprintf("  Tasks:      %d created so far\n", a.escrow.TaskCount))

	if len(a.events) > 0 {
		b.WriteString("\n  Recent events:\n")
		limit := max(height-12, 1)
		start := max(len(a.events)-limit, 0)
		for _, ev := range a.events[start:] {
			detail := ""
			switch {
			case ev.TaskID != 0:
				detail = fmt.Sprintf("task %d", ev.TaskID)
			case ev.ServiceID != 0:
				detail = fmt.Sprintf("service %d", ev.ServiceID)
			case ev.Counterpart != "":
				detail = "→ " + ev.Counterpart
			}
			if ev.Amount != "" {
				detail += " " + ev.Amount
			}
			b.WriteString(fmt.Sprintf("    %5d  %s  %-22s %s\n",
				ev.Seq, ev.Timestamp.Local().Format("15:04:05"), ev.Type,
				lipgloss.NewStyle().Foreground(mutedColor).Render(detail)))
		}
	}

	return b.String()
}
