// Package tui provides the interactive terminal UI for UTA.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const (
	modeList   = "list"
	modeDetail = "detail"
)

// refreshInterval is how often the open view polls the daemon.
const refreshInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	userID       string
	tasks        []TaskItem
	selectedIdx  int
	input        textinput.Model
	viewport     viewport.Model
	width        int
	height       int
	mode         string
	currentTask  *TaskDetail
	steps        []StepDetail
	audit        []AuditDetail
	message      string
	filterIdx    int
	loading      bool
	daemonOnline bool
	suggestions  *Suggestions
}

// New creates a new TUI application. Tasks added from the UI are owned by
// userID.
func New(apiAddr, userID string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: add <task> | answer <text> | filter <status> | /"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		userID:      userID,
		input:       ti,
		viewport:    viewport.New(80, 20),
		mode:        modeList,
		width:       80,
		height:      24,
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchTasks(),
		a.checkDaemon(),
		tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.mode == modeDetail {
				a.mode = modeList
				a.currentTask = nil
				return a, a.fetchTasks()
			}
			a.input.SetValue("")
			a.suggestions.Update("")
			return a, nil

		case "up":
			switch {
			case a.suggestions.IsVisible():
				a.suggestions.Prev()
			case a.mode == modeList && a.selectedIdx > 0:
				a.selectedIdx--
			case a.mode == modeDetail:
				a.viewport.LineUp(1)
			}
			return a, nil

		case "down":
			switch {
			case a.suggestions.IsVisible():
				a.suggestions.Next()
			case a.mode == modeList && a.selectedIdx < len(a.tasks)-1:
				a.selectedIdx++
			case a.mode == modeDetail:
				a.viewport.LineDown(1)
			}
			return a, nil

		case "tab":
			if a.acceptSuggestion() {
				return a, nil
			}
			if a.mode == modeList {
				a.filterIdx = (a.filterIdx + 1) % len(filters)
				return a, a.fetchTasks()
			}
			return a, nil

		case "enter":
			if a.acceptSuggestion() {
				return a, nil
			}
			line := strings.TrimSpace(a.input.Value())
			if line != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, a.executeCommand(line)
			}
			if a.mode == modeList && len(a.tasks) > 0 {
				return a, a.openDetail(a.tasks[a.selectedIdx].ID)
			}
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		a.viewport.Width = msg.Width
		a.viewport.Height = max(5, msg.Height-8)

	case tasksLoadedMsg:
		a.loading = false
		a.daemonOnline = true
		a.tasks = msg.tasks
		if a.selectedIdx >= len(a.tasks) {
			a.selectedIdx = max(0, len(a.tasks)-1)
		}

	case taskDetailLoadedMsg:
		a.daemonOnline = true
		a.currentTask = msg.task
		a.steps = msg.steps
		a.audit = msg.audit
		atBottom := a.viewport.AtBottom()
		a.viewport.SetContent(a.detailContent())
		if atBottom {
			a.viewport.GotoBottom()
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		cmds = append(cmds, tickCmd(), a.refresh())

	case commandResultMsg:
		a.message = msg.message
		cmds = append(cmds, a.refresh())

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	// Update input
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())
	a.suggestions.SetTasks(a.tasks)

	return a, tea.Batch(cmds...)
}

// acceptSuggestion copies the highlighted suggestion into the input.
func (a *App) acceptSuggestion() bool {
	if !a.suggestions.IsVisible() {
		return false
	}
	selected := a.suggestions.Selected()
	if selected == nil {
		return false
	}
	if selected.Type == "task" {
		if i := a.taskIndex(selected.Text); i >= 0 {
			a.selectedIdx = i
		}
		a.input.SetValue("")
	} else {
		a.input.SetValue(selected.Text + " ")
		a.input.CursorEnd()
	}
	a.suggestions.Update(a.input.Value())
	return true
}

func (a *App) taskIndex(id string) int {
	for i, t := range a.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("UTA Tasks") + "  " + daemonStatus
	if a.userID != "" {
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(a.userID)
	}

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(1, a.width)) + "\n")

	contentHeight := max(5, a.height-8)

	switch a.mode {
	case modeList:
		filterLabel := fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(filterLabel) + "\n")
		b.WriteString(a.renderTaskList(contentHeight - 1))
	case modeDetail:
		b.WriteString(a.viewport.View())
	}

	// Message bar
	b.WriteString("\n")
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.message))
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeList:
		status = fmt.Sprintf(" Tasks: %d | ↑↓:nav | Enter:open | Tab:filter | Ctrl+C:quit", len(a.tasks))
	default:
		status = " ↑↓:scroll | answer <text> | Esc:back | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

// selectedTaskID is the task commands apply to: the open one in the detail
// view, otherwise the highlighted row.
func (a *App) selectedTaskID() string {
	if a.mode == modeDetail && a.currentTask != nil {
		return a.currentTask.ID
	}
	if len(a.tasks) == 0 {
		return ""
	}
	return a.tasks[a.selectedIdx].ID
}

func (a *App) refresh() tea.Cmd {
	if a.mode == modeDetail && a.currentTask != nil {
		return a.fetchTaskDetail(a.currentTask.ID)
	}
	return a.fetchTasks()
}

func (a *App) openDetail(taskID string) tea.Cmd {
	a.mode = modeDetail
	a.currentTask = nil
	a.viewport.SetContent(a.detailContent())
	a.viewport.GotoTop()
	return a.fetchTaskDetail(taskID)
}

func (a *App) fetchTasks() tea.Cmd {
	a.loading = true
	filter := filters[a.filterIdx]
	client := a.client
	return func() tea.Msg {
		tasks, err := client.ListTasks(filter)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) fetchTaskDetail(taskID string) tea.Cmd {
	client := a.client
	return func() tea.Msg {
		task, err := client.GetTask(taskID)
		if err != nil {
			return errMsg{err}
		}
		steps, err := client.GetSteps(taskID)
		if err != nil {
			return errMsg{err}
		}
		audit, _ := client.GetAudit(taskID)
		return taskDetailLoadedMsg{task, steps, audit}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	client := a.client
	return func() tea.Msg {
		ok, err := client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

// executeCommand runs one typed command. UI state changes happen here;
// API calls run in the returned command.
func (a *App) executeCommand(line string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return nil
	}
	cmd, rest := parts[0], strings.Join(parts[1:], " ")
	client := a.client
	taskID := a.selectedTaskID()

	switch cmd {
	case "add":
		if rest == "" {
			a.message = "Usage: add <what the phone should do>"
			return nil
		}
		userID := a.userID
		return func() tea.Msg {
			id, err := client.CreateTask(userID, rest)
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Queued task %s", shortID(id))}
		}

	case "answer":
		if rest == "" {
			a.message = "Usage: answer <text>"
			return nil
		}
		if taskID == "" {
			a.message = "No task selected"
			return nil
		}
		return func() tea.Msg {
			if err := client.Clarify(taskID, rest); err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Answered %s, task requeued", shortID(taskID))}
		}

	case "filter":
		idx := 0
		for i, f := range filters {
			if f == strings.ToLower(rest) {
				idx = i
			}
		}
		a.filterIdx = idx
		a.mode = modeList
		a.message = "Filter: " + filterNames[idx]
		return a.fetchTasks()

	case "steps", "open":
		if taskID == "" {
			a.message = "No task selected"
			return nil
		}
		return a.openDetail(taskID)

	case "q", "quit", "exit":
		return tea.Quit

	default:
		a.message = fmt.Sprintf("Unknown: %s (try: add, answer, filter, steps)", cmd)
		return nil
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type tasksLoadedMsg struct {
	tasks []TaskItem
}

type taskDetailLoadedMsg struct {
	task  *TaskDetail
	steps []StepDetail
	audit []AuditDetail
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
