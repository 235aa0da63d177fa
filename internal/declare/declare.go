// Package declare prepares a task before automation: clarification,
// classification, decomposition, and direct answers to general inquiries.
package declare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/oracle"
)

// DefaultMaxClarifications bounds the questions asked about one task.
const DefaultMaxClarifications = 3

// ErrNoPendingQuestion is returned by Answer when every question is answered.
var ErrNoPendingQuestion = errors.New("no pending clarification question")

// Declarer runs the declaration flow against the decision oracle.
type Declarer struct {
	client            *oracle.Client
	logger            *slog.Logger
	maxClarifications int
}

// New creates a declarer. maxClarifications <= 0 uses the default.
func New(c *oracle.Client, logger *slog.Logger, maxClarifications int) *Declarer {
	if maxClarifications <= 0 {
		maxClarifications = DefaultMaxClarifications
	}
	return &Declarer{
		client:            c,
		logger:            logging.OrDefault(logger).With("component", "declare"),
		maxClarifications: maxClarifications,
	}
}

// Declare runs clarification, classification and decomposition in order.
// A non-empty question means the task waits for the user's answer.
func (d *Declarer) Declare(ctx context.Context, task *models.Task) (string, error) {
	if q := PendingQuestion(task); q != "" {
		return q, nil
	}
	if len(task.Clarifications) < d.maxClarifications {
		q, err := d.Clarify(ctx, task)
		if err != nil {
			return "", err
		}
		if q != "" {
			return q, nil
		}
	}
	if task.Type == models.TaskTypeUnset {
		if err := d.Classify(ctx, task); err != nil {
			return "", err
		}
	}
	if task.Type != models.TaskTypeGeneralInquiry && len(task.Subtasks) == 0 {
		if err := d.Decompose(ctx, task); err != nil {
			return "", err
		}
	}
	return "", nil
}

// Clarify asks whether the task is clear. When it is not, the question is
// recorded as an open clarification turn and returned.
func (d *Declarer) Clarify(ctx context.Context, task *models.Task) (string, error) {
	fields, _, err := d.client.Ask(ctx, oracle.Request{
		Kind:    oracle.KindClarify,
		Task:    task.Description,
		History: Dialogue(task),
	})
	if err != nil {
		return "", err
	}
	clear, _ := fields.Get("Clear")
	question, _ := fields.Get("Question")
	question = strings.TrimSpace(question)
	if isYes(clear) || question == "" {
		return "", nil
	}

	task.Clarifications = append(task.Clarifications, models.DialogueTurn{
		Question: question,
		At:       time.Now().UTC(),
	})
	task.UpdatedAt = time.Now().UTC()
	d.logger.Info("clarification requested", "task_id", task.ID, "question", question)
	return question, nil
}

// Answer records the user's answer to the open clarification question.
func Answer(task *models.Task, answer string) error {
	n := len(task.Clarifications)
	if n == 0 || task.Clarifications[n-1].Answer != "" {
		return fmt.Errorf("answer task %s: %w", task.ID, ErrNoPendingQuestion)
	}
	task.Clarifications[n-1].Answer = strings.TrimSpace(answer)
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// PendingQuestion returns the unanswered clarification question, if any.
func PendingQuestion(task *models.Task) string {
	n := len(task.Clarifications)
	if n == 0 || task.Clarifications[n-1].Answer != "" {
		return ""
	}
	return task.Clarifications[n-1].Question
}

// Dialogue renders the clarification turns for the oracle.
func Dialogue(task *models.Task) string {
	var b strings.Builder
	for _, turn := range task.Clarifications {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", turn.Question, turn.Answer)
	}
	return b.String()
}

// Classify sets the task type.
func (d *Declarer) Classify(ctx context.Context, task *models.Task) error {
	fields, raw, err := d.client.Ask(ctx, oracle.Request{
		Kind:    oracle.KindClassify,
		Task:    task.Description,
		History: Dialogue(task),
	})
	if err != nil {
		return err
	}
	text, _ := fields.Get("Type")
	typ, err := parseType(text)
	if err != nil {
		return models.NewDecisionError("classify", raw, err)
	}
	task.Type = typ
	task.UpdatedAt = time.Now().UTC()
	d.logger.Info("task classified", "task_id", task.ID, "type", typ)
	return nil
}

func parseType(s string) (models.TaskType, error) {
	key := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(s))
	for _, t := range []models.TaskType{
		models.TaskTypeGeneralInquiry,
		models.TaskTypeSystemFunction,
		models.TaskTypeAppRelated,
	} {
		if key == strings.ToLower(strings.ReplaceAll(string(t), " ", "")) {
			return t, nil
		}
	}
	return models.TaskTypeUnset, fmt.Errorf("unknown task type %q", s)
}

// Decompose splits the task into subtasks. A single subtask that restates
// the description leaves Subtasks empty.
func (d *Declarer) Decompose(ctx context.Context, task *models.Task) error {
	fields, _, err := d.client.Ask(ctx, oracle.Request{
		Kind:    oracle.KindDecompose,
		Task:    task.Description,
		History: Dialogue(task),
	})
	if err != nil {
		return err
	}
	text, _ := fields.Get("Subtasks")
	var subtasks []string
	for _, part := range strings.Split(text, ";") {
		if part = strings.TrimSpace(part); part != "" {
			subtasks = append(subtasks, part)
		}
	}
	if len(subtasks) == 1 && strings.EqualFold(subtasks[0], strings.TrimSpace(task.Description)) {
		subtasks = nil
	}
	task.Subtasks = subtasks
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// Inquire answers a general inquiry directly, records it as an inquiry step
// and finishes the task. A reply without an "Answer" field is used verbatim.
func (d *Declarer) Inquire(ctx context.Context, task *models.Task) error {
	req := oracle.Request{
		Kind:    oracle.KindInquiry,
		Task:    task.Description,
		History: Dialogue(task),
	}
	fields, raw, err := d.client.Ask(ctx, req)
	var answer string
	switch {
	case err == nil:
		answer, _ = fields.Get("Answer")
	case errors.Is(err, oracle.ErrUndecodable) && strings.TrimSpace(raw) != "":
		answer = raw
	default:
		return err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = strings.TrimSpace(raw)
	}

	step := &models.InquiryStep{
		ID:          uuid.New().String(),
		UserMessage: task.Description,
		Response:    answer,
		CreatedAt:   time.Now().UTC(),
	}
	if err := task.AppendStep(step); err != nil {
		return err
	}
	task.Dialogue = append(task.Dialogue, models.DialogueTurn{Question: task.Description, Answer: answer, At: step.CreatedAt})
	task.Finish(models.ResultFinish)
	return nil
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "y", "1":
		return true
	}
	return false
}
