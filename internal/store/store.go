// Package store provides SQLite-backed persistence for UTA.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	_ "modernc.org/sqlite"

	"github.com/fentz26/uta/internal/models"
)

// ErrNoPendingTask is returned by ClaimNextPending when nothing is queued.
var ErrNoPendingTask = errors.New("no pending task")

// ErrStepExists is returned when a step with the same sequence number was
// already stored for the task.
var ErrStepExists = errors.New("step already recorded")

// Store provides access to the UTA SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		execution_result TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (task_id, seq),
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_steps_task_id ON steps(task_id);
	CREATE INDEX IF NOT EXISTS idx_pdr_task_id ON pdr(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// taskState holds the task fields kept as one JSON column.
type taskState struct {
	Clarifications   []models.DialogueTurn `json:"clarifications,omitempty"`
	Dialogue         []models.DialogueTurn `json:"dialogue,omitempty"`
	Subtasks         []string              `json:"subtasks,omitempty"`
	ExcludedElements []int                 `json:"excluded_elements,omitempty"`
	ExcludedApps     []string              `json:"excluded_apps,omitempty"`
}

func stateOf(t *models.Task) (string, error) {
	data, err := json.Marshal(taskState{
		Clarifications:   t.Clarifications,
		Dialogue:         t.Dialogue,
		Subtasks:         t.Subtasks,
		ExcludedElements: t.ExcludedElements,
		ExcludedApps:     t.ExcludedApps,
	})
	if err != nil {
		return "", fmt.Errorf("encode task state: %w", err)
	}
	return string(data), nil
}

const taskColumns = `id, user_id, description, type, status, execution_result, state, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var state string
	if err := row.Scan(&task.ID, &task.UserID, &task.Description, &task.Type, &task.Status,
		&task.ExecutionResult, &state, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	var st taskState
	if err := json.Unmarshal([]byte(state), &st); err != nil {
		return nil, fmt.Errorf("decode task state: %w", err)
	}
	task.Clarifications = st.Clarifications
	task.Dialogue = st.Dialogue
	task.Subtasks = st.Subtasks
	task.ExcludedElements = st.ExcludedElements
	task.ExcludedApps = st.ExcludedApps
	return task, nil
}

// --- Task Operations ---

// CreateTask inserts a new pending task.
func (s *Store) CreateTask(userID, description string) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Description: description,
		Status:      models.TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, user_id, description, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.Description, task.Status, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetTask retrieves a task and its steps by ID. A missing task returns nil
// without error.
func (s *Store) GetTask(id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	if task.Steps, err = s.GetSteps(id); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks without steps, newest first, optionally filtered
// by status.
func (s *Store) ListTasks(status string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// SaveTask writes the task's mutable fields. Steps are stored separately
// through AppendStep.
func (s *Store) SaveTask(task *models.Task) error {
	state, err := stateOf(task)
	if err != nil {
		return err
	}
	task.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE tasks SET type = ?, status = ?, execution_result = ?, state = ?, updated_at = ? WHERE id = ?`,
		task.Type, task.Status, task.ExecutionResult, state, task.UpdatedAt, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update task %s: %w", task.ID, sql.ErrNoRows)
	}
	return nil
}

// UpdateTaskStatus updates the status of a task.
func (s *Store) UpdateTaskStatus(id string, status models.TaskStatus) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	return err
}

// ClaimNextPending atomically moves the oldest pending task to running and
// returns it with its steps.
func (s *Store) ClaimNextPending() (*models.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := scanTask(tx.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
		models.TaskStatusPending,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNoPendingTask
	}
	if err != nil {
		return nil, fmt.Errorf("query pending task: %w", err)
	}

	now := time.Now().UTC()
	result, err := tx.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TaskStatusRunning, now, task.ID, models.TaskStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNoPendingTask
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	task.Status = models.TaskStatusRunning
	task.UpdatedAt = now
	if task.Steps, err = s.GetSteps(task.ID); err != nil {
		return nil, err
	}
	return task, nil
}

// --- Step Operations ---

// AppendStep stores a step envelope. Steps are never updated; storing the
// same sequence number twice fails with ErrStepExists.
func (s *Store) AppendStep(taskID string, step models.Step) error {
	env, err := models.EncodeStep(step)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO steps (id, task_id, seq, kind, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), taskID, step.Sequence(), env.Kind, string(env.Payload), time.Now().UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("step %d of task %s: %w", step.Sequence(), taskID, ErrStepExists)
		}
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// GetSteps returns a task's steps in sequence order.
func (s *Store) GetSteps(taskID string) ([]models.Step, error) {
	rows, err := s.db.Query(
		`SELECT kind, payload FROM steps WHERE task_id = ? ORDER BY seq ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []models.Step
	for rows.Next() {
		var env models.StepEnvelope
		var payload string
		if err := rows.Scan(&env.Kind, &payload); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		env.Payload = json.RawMessage(payload)
		step, err := models.DecodeStep(env)
		if err != nil {
			return nil, fmt.Errorf("decode step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.TaskID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the decision records of a task, oldest first.
func (s *Store) ListPDR(taskID string) ([]models.PDREntry, error) {
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, task_id, details, timestamp FROM pdr WHERE task_id = ? ORDER BY timestamp ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var task, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &task, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.TaskID = task.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Export ---

// ExportTask writes the task with its steps to <dir>/<user_id>/<task_id>.json
// and returns the path. Tasks without a user go under "anonymous".
func ExportTask(fs afero.Fs, dir string, task *models.Task) (string, error) {
	user := task.UserID
	if user == "" {
		user = "anonymous"
	}
	userDir := filepath.Join(dir, filepath.Base(user))
	if err := fs.MkdirAll(userDir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	path := filepath.Join(userDir, task.ID+".json")
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}
