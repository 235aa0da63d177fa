package tui

// TaskItem is a summary of a task for the list view
type TaskItem struct {
	ID          string
	Description string
	Status      string
	Result      string
}

// TaskDetail is the full task information
type TaskDetail struct {
	ID             string
	UserID         string
	Description    string
	Type           string
	Status         string
	Result         string
	Clarifications []Turn
	Subtasks       []string
	ExcludedApps   []string
	CreatedAt      string
	UpdatedAt      string
}

// Turn is one clarification question and its answer.
type Turn struct {
	Question string
	Answer   string
}

// StepDetail is one step of a task's history, flattened for display.
type StepDetail struct {
	Seq     int
	Kind    string
	Summary string
	Result  string
	Error   string
}

// AuditDetail represents a decision record
type AuditDetail struct {
	Action    string
	Outcome   string
	Details   string
	Timestamp string
}
