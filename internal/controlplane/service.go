// Package controlplane provides the HTTP API and service layer for UTA.
package controlplane

import (
	"context"
	"fmt"
	"strings"

	"github.com/fentz26/uta/internal/audit"
	"github.com/fentz26/uta/internal/declare"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/store"
)

// Service provides the control plane business logic.
type Service struct {
	store *store.Store
	pdr   *audit.PDRWriter
}

// NewService creates a new control plane service.
func NewService(s *store.Store, pdr *audit.PDRWriter) *Service {
	return &Service{
		store: s,
		pdr:   pdr,
	}
}

// --- Task Operations ---

// CreateTask queues a new task for the scheduler.
func (s *Service) CreateTask(userID, description string) (*models.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("create task: description required: %w", ErrInvalidRequest)
	}

	task, err := s.store.CreateTask(userID, description)
	if err != nil {
		return nil, err
	}

	s.pdr.Record("task.create", map[string]string{"user_id": userID, "description": description}, "success", task.ID, "")
	return task, nil
}

// GetTask retrieves a task with its steps.
func (s *Service) GetTask(id string) (*models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("get task %s: %w", id, ErrTaskNotFound)
	}
	return task, nil
}

// ListTasks returns tasks, optionally filtered by status.
func (s *Service) ListTasks(status string) ([]models.Task, error) {
	if status != "" && !validStatus(models.TaskStatus(status)) {
		return nil, fmt.Errorf("list tasks: unknown status %q: %w", status, ErrInvalidRequest)
	}
	return s.store.ListTasks(status)
}

func validStatus(st models.TaskStatus) bool {
	switch st {
	case models.TaskStatusPending, models.TaskStatusWaiting, models.TaskStatusRunning,
		models.TaskStatusFinished, models.TaskStatusFailed:
		return true
	}
	return false
}

// GetSteps returns a task's step history in kind/payload form.
func (s *Service) GetSteps(taskID string) ([]models.StepEnvelope, error) {
	if _, err := s.GetTask(taskID); err != nil {
		return nil, err
	}
	steps, err := s.store.GetSteps(taskID)
	if err != nil {
		return nil, err
	}
	out := make([]models.StepEnvelope, 0, len(steps))
	for _, st := range steps {
		e, err := models.EncodeStep(st)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetAudit returns the decision records written for a task.
func (s *Service) GetAudit(taskID string) ([]models.PDREntry, error) {
	if _, err := s.GetTask(taskID); err != nil {
		return nil, err
	}
	return s.store.ListPDR(taskID)
}

// Clarify answers the open question of a waiting task and requeues it.
func (s *Service) Clarify(taskID, answer string) (*models.Task, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("clarify task %s: answer required: %w", taskID, ErrInvalidRequest)
	}
	task, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusWaiting {
		return nil, fmt.Errorf("clarify task %s (%s): %w", taskID, task.Status, ErrNotWaiting)
	}
	if err := declare.Answer(task, answer); err != nil {
		return nil, err
	}

	task.Status = models.TaskStatusPending
	if err := s.store.SaveTask(task); err != nil {
		return nil, err
	}

	s.pdr.Record("task.clarify", map[string]string{"answer": answer}, "success", taskID, "")
	return task, nil
}

// Health checks that the store answers.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}
