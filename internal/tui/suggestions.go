package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Suggestions provides autocomplete for commands
type Suggestions struct {
	items        []SuggestionItem
	filtered     []SuggestionItem
	selectedIdx  int
	visible      bool
	prefix       string // "/", "@", or "!"
	currentInput string
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "task", "service", "action"
}

var commandSuggestions = []SuggestionItem{
	{Text: "buy", Description: "buy <service> <payment>: purchase a run", Type: "command"},
	{Text: "start", Description: "Start the selected task", Type: "command"},
	{Text: "complete", Description: "complete [result-hash]: settle to the authority", Type: "command"},
	{Text: "refund", Description: "Refund the selected task to its buyer", Type: "command"},
	{Text: "register", Description: "register <service> <price>", Type: "command"},
	{Text: "price", Description: "price <service> <price>", Type: "command"},
	{Text: "deactivate", Description: "deactivate <service>", Type: "command"},
	{Text: "services", Description: "View registered services", Type: "command"},
	{Text: "escrow", Description: "View escrow balance and invariant", Type: "command"},
	{Text: "whoami", Description: "Show the acting principal", Type: "command"},
}

var actionSuggestions = []SuggestionItem{
	{Text: "refresh", Description: "Reload the current view", Type: "action"},
	{Text: "check", Description: "Verify escrow equals held task amounts", Type: "action"},
	{Text: "running", Description: "Show running tasks only", Type: "action"},
	{Text: "created", Description: "Show created tasks only", Type: "action"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{
		items:   commandSuggestions,
		visible: false,
	}
}

// Update updates suggestions based on current input
func (s *Suggestions) Update(input string) {
	if input == "" {
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}

	switch input[0] {
	case '/':
		s.prefix = "/"
		s.items = commandSuggestions
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "/")))
	case '@':
		s.prefix = "@"
		// References are filled by SetReferences
		if len(s.items) > 0 && s.items[0].Type == "command" {
			s.items = []SuggestionItem{}
		}
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "@")))
	case '!':
		s.prefix = "!"
		s.items = actionSuggestions
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "!")))
	default:
		s.visible = false
		s.filtered = nil
		s.prefix = ""
	}

	s.currentInput = input
}

// SetReferences replaces the @ suggestions with task and service ids.
func (s *Suggestions) SetReferences(taskIDs, serviceIDs []uint64) {
	if s.prefix != "@" {
		return
	}
	s.items = make([]SuggestionItem, 0, len(taskIDs)+len(serviceIDs))
	for _, id := range taskIDs {
		s.items = append(s.items, SuggestionItem{
			Text:        fmt.Sprintf("task-%d", id),
			Description: "Reference this task",
			Type:        "task",
		})
	}
	for _, id := range serviceIDs {
		s.items = append(s.items, SuggestionItem{
			Text:        fmt.Sprintf("service-%d", id),
			Description: "Reference this service",
			Type:        "service",
		})
	}
	s.filter(strings.ToLower(strings.TrimPrefix(s.currentInput, "@")))
}

func (s *Suggestions) filter(query string) {
	s.selectedIdx = 0
	if query == "" {
		s.filtered = s.items
		return
	}

	s.filtered = []SuggestionItem{}
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(max(width-4, 20))

	chosenStyle := lipgloss.NewStyle().
		Background(primaryColor).
		Foreground(fgColor).
		Bold(true)

	itemStyle := lipgloss.NewStyle().Foreground(fgColor)
	descStyle := lipgloss.NewStyle().Foreground(mutedColor).Italic(true)

	var header string
	switch s.prefix {
	case "/":
		header = "Commands"
	case "@":
		header = "References"
	case "!":
		header = "Quick Actions"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(header))
	b.WriteString("\n")

	const maxVisible = 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", len(s.filtered)-maxVisible)))
			break
		}

		var line string
		if i == s.selectedIdx {
			line = chosenStyle.Render("▶ " + item.Text)
			if item.Description != "" {
				line += " " + chosenStyle.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return boxStyle.Render(b.String())
}
