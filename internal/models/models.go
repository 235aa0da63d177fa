// Package models defines the core domain types for UTA.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task. A waiting task has an
// open clarification question.
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusWaiting  TaskStatus = "waiting"
	TaskStatusFinished TaskStatus = "finished"
	TaskStatusFailed   TaskStatus = "failed"
)

// TaskType is the classification assigned during declaration.
type TaskType string

const (
	TaskTypeUnset          TaskType = ""
	TaskTypeGeneralInquiry TaskType = "General Inquiry"
	TaskTypeSystemFunction TaskType = "System Function"
	TaskTypeAppRelated     TaskType = "App Related"
)

// Terminal execution results. Any other non-empty string is a failure reason.
const (
	ResultFinish             = "Finish"
	ResultFailed             = "Failed"
	ResultOverMaxTries       = "Over the max tries."
	ResultAppLaunchExhausted = "Failed to launch related apps within max attempts."
)

// DialogueTurn is one exchange in the clarification or automation dialogue.
type DialogueTurn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer,omitempty"`
	At       time.Time `json:"at"`
}

// Task represents one user request and its full automation history.
type Task struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Description      string         `json:"description"`
	Type             TaskType       `json:"type,omitempty"`
	Status           TaskStatus     `json:"status"`
	Clarifications   []DialogueTurn `json:"clarifications,omitempty"`
	Dialogue         []DialogueTurn `json:"dialogue,omitempty"`
	Subtasks         []string       `json:"subtasks,omitempty"`
	Steps            []Step         `json:"-"`
	ExcludedElements []int          `json:"excluded_elements,omitempty"`
	ExcludedApps     []string       `json:"excluded_apps,omitempty"`
	ExecutionResult  string         `json:"execution_result,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Terminal reports whether the task has an execution result.
func (t *Task) Terminal() bool {
	return t.ExecutionResult != ""
}

// AppendStep adds a step to the history and assigns its sequence number.
func (t *Task) AppendStep(s Step) error {
	if t.Terminal() {
		return fmt.Errorf("append step to task %s: %w", t.ID, ErrTaskTerminal)
	}
	s.setSeq(len(t.Steps) + 1)
	t.Steps = append(t.Steps, s)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// LastStep returns the most recent step or nil.
func (t *Task) LastStep() Step {
	if len(t.Steps) == 0 {
		return nil
	}
	return t.Steps[len(t.Steps)-1]
}

// Finish records the execution result and derives the status from it.
func (t *Task) Finish(result string) {
	t.ExecutionResult = result
	if result == ResultFinish {
		t.Status = TaskStatusFinished
	} else {
		t.Status = TaskStatusFailed
	}
	t.UpdatedAt = time.Now().UTC()
}

// ExcludeElements adds element ids to the exclusion set.
func (t *Task) ExcludeElements(ids ...int) {
	for _, id := range ids {
		if !t.ElementExcluded(id) {
			t.ExcludedElements = append(t.ExcludedElements, id)
		}
	}
}

// ElementExcluded reports whether id is in the exclusion set.
func (t *Task) ElementExcluded(id int) bool {
	for _, e := range t.ExcludedElements {
		if e == id {
			return true
		}
	}
	return false
}

// ExcludeApp adds a package to the exclusion set. Empty names are ignored.
func (t *Task) ExcludeApp(pkg string) {
	if pkg == "" || t.AppExcluded(pkg) {
		return
	}
	t.ExcludedApps = append(t.ExcludedApps, pkg)
}

// AppExcluded reports whether pkg is in the exclusion set.
func (t *Task) AppExcluded(pkg string) bool {
	for _, a := range t.ExcludedApps {
		if a == pkg {
			return true
		}
	}
	return false
}

// Goal returns the description plus subtasks, the text resolvers work from.
func (t *Task) Goal() string {
	if len(t.Subtasks) == 0 {
		return t.Description
	}
	s := t.Description + "\nSubtasks:"
	for i, st := range t.Subtasks {
		s += fmt.Sprintf("\n%d. %s", i+1, st)
	}
	return s
}

// taskAlias drops Task's methods so Marshal/UnmarshalJSON do not recurse.
type taskAlias Task

type taskJSON struct {
	taskAlias
	Steps []StepEnvelope `json:"steps"`
}

// MarshalJSON writes steps as kind/payload envelopes.
func (t Task) MarshalJSON() ([]byte, error) {
	env := make([]StepEnvelope, 0, len(t.Steps))
	for _, s := range t.Steps {
		e, err := EncodeStep(s)
		if err != nil {
			return nil, err
		}
		env = append(env, e)
	}
	return json.Marshal(taskJSON{taskAlias: taskAlias(t), Steps: env})
}

// UnmarshalJSON reads steps back from their envelopes. Unknown fields are
// rejected.
func (t *Task) UnmarshalJSON(data []byte) error {
	var raw taskJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	*t = Task(raw.taskAlias)
	t.Steps = nil
	for _, e := range raw.Steps {
		s, err := DecodeStep(e)
		if err != nil {
			return err
		}
		t.Steps = append(t.Steps, s)
	}
	return nil
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
