package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	statusPending  = lipgloss.NewStyle().Foreground(warningColor)
	statusWaiting  = lipgloss.NewStyle().Foreground(cyanColor)
	statusRunning  = lipgloss.NewStyle().Foreground(primaryColor)
	statusFinished = lipgloss.NewStyle().Foreground(successColor)
	statusFailed   = lipgloss.NewStyle().Foreground(errorColor)
)

var filters = []string{"", "pending", "waiting", "running", "finished", "failed"}
var filterNames = []string{"ALL", "PENDING", "WAITING", "RUNNING", "FINISHED", "FAILED"}

func formatStatus(status string) string {
	switch status {
	case "pending":
		return statusPending.Render("○ PENDING")
	case "waiting":
		return statusWaiting.Render("? WAITING")
	case "running":
		return statusRunning.Render("◑ RUNNING")
	case "finished":
		return statusFinished.Render("● FINISHED")
	case "failed":
		return statusFailed.Render("✗ FAILED")
	default:
		return status
	}
}

func statusIcon(status string) string {
	switch status {
	case "pending":
		return "○"
	case "waiting":
		return "?"
	case "running":
		return "◑"
	case "finished":
		return "●"
	case "failed":
		return "✗"
	default:
		return " "
	}
}

func (a *App) renderTaskList(height int) string {
	if a.loading && len(a.tasks) == 0 {
		return "\n  Loading tasks...\n"
	}
	if len(a.tasks) == 0 {
		return "\n  No tasks found. Type: add <what the phone should do>\n"
	}

	var lines []string
	for i, task := range a.tasks {
		desc := truncate(task.Description, a.width-24)
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s  %s", statusIcon(task.Status), desc)))
			continue
		}
		line := fmt.Sprintf("  %s  %s", formatStatus(task.Status), desc)
		if task.Result != "" && task.Status == "failed" {
			line += "  " + helpStyle.Render(task.Result)
		}
		lines = append(lines, taskItemStyle.Render(line))
	}

	// Limit visible lines
	if len(lines) > height {
		start := max(0, a.selectedIdx-height/2)
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if n < 10 {
		n = 10
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
