package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			MarginTop(1)
)

// detailContent renders the selected task for the viewport.
func (a *App) detailContent() string {
	t := a.currentTask
	if t == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(t.Description)))
	field := func(label, value string) {
		if value != "" {
			b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(label+":"), value))
		}
	}
	field("ID", t.ID)
	b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("Status:"), formatStatus(t.Status)))
	field("Type", t.Type)
	field("Result", t.Result)
	field("User", t.UserID)
	if len(t.Subtasks) > 0 {
		field("Subtasks", strings.Join(t.Subtasks, "; "))
	}
	if len(t.ExcludedApps) > 0 {
		field("Excluded apps", strings.Join(t.ExcludedApps, ", "))
	}

	if len(t.Clarifications) > 0 {
		b.WriteString(sectionStyle.Render("  Clarifications") + "\n")
		for _, turn := range t.Clarifications {
			answer := turn.Answer
			if answer == "" {
				answer = lipgloss.NewStyle().Foreground(warningColor).Render("(waiting: type answer <text>)")
			}
			b.WriteString(fmt.Sprintf("    Q: %s\n    A: %s\n", turn.Question, answer))
		}
	}

	b.WriteString(sectionStyle.Render(fmt.Sprintf("  Steps (%d)", len(a.steps))) + "\n")
	for _, s := range a.steps {
		line := fmt.Sprintf("    %3d  %s", s.Seq, s.Summary)
		if s.Result != "" {
			line += "  " + lipgloss.NewStyle().Foreground(successColor).Render("["+s.Result+"]")
		}
		b.WriteString(line + "\n")
		if s.Error != "" {
			b.WriteString("         " + lipgloss.NewStyle().Foreground(errorColor).Render(s.Error) + "\n")
		}
	}

	if len(a.audit) > 0 {
		b.WriteString(sectionStyle.Render("  Decisions") + "\n")
		for _, e := range a.audit {
			b.WriteString(fmt.Sprintf("    %s  %-16s %s\n", labelStyle.Render(e.Timestamp), e.Action, e.Outcome))
		}
	}

	return b.String()
}
