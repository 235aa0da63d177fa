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
	prefix       string // "/" or "@"
	currentInput string
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command" or "task"
}

var commandSuggestions = []SuggestionItem{
	{Text: "add", Description: "Queue a task for the phone", Type: "command"},
	{Text: "answer", Description: "Answer the selected task's question", Type: "command"},
	{Text: "filter", Description: "Show tasks with a status", Type: "command"},
	{Text: "steps", Description: "Open the selected task's history", Type: "command"},
	{Text: "quit", Description: "Leave the UI", Type: "command"},
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
	s.currentInput = input
	switch {
	case strings.HasPrefix(input, "/"):
		s.prefix = "/"
		s.items = commandSuggestions
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "/")))
	case strings.HasPrefix(input, "@"):
		// task references are filled in by SetTasks
		if s.prefix != "@" {
			s.items = nil
		}
		s.prefix = "@"
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "@")))
	default:
		s.visible = false
		s.filtered = nil
		s.prefix = ""
	}
}

// SetTasks replaces the task reference suggestions
func (s *Suggestions) SetTasks(tasks []TaskItem) {
	if s.prefix != "@" {
		return
	}
	s.items = make([]SuggestionItem, len(tasks))
	for i, task := range tasks {
		s.items[i] = SuggestionItem{
			Text:        task.ID,
			Description: task.Description,
			Type:        "task",
		}
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

	suggestionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#6366F1")).
		Padding(0, 1).
		Width(width - 4)

	selectedStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("#7C3AED")).
		Foreground(lipgloss.Color("#F9FAFB")).
		Bold(true)

	itemStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F9FAFB"))

	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Italic(true)

	// Header
	var header string
	switch s.prefix {
	case "/":
		header = "Commands"
	case "@":
		header = "Tasks"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Render(header))
	b.WriteString("\n")

	// Show max 5 suggestions
	maxVisible := 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			more := len(s.filtered) - maxVisible
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", more)))
			break
		}

		line := ""
		if i == s.selectedIdx {
			line = selectedStyle.Render("▶ " + item.Text)
			if item.Description != "" {
				line += " " + selectedStyle.Render(item.Description)
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

	return suggestionStyle.Render(b.String())
}
