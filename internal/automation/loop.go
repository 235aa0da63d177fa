// Package automation drives one device through a task: capture the screen,
// resolve how it relates to the task, act, and repeat until the task is
// finished or fails.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/fentz26/uta/internal/apps"
	"github.com/fentz26/uta/internal/config"
	"github.com/fentz26/uta/internal/device"
	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/metrics"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/oracle"
	"github.com/fentz26/uta/internal/resolver"
	"github.com/fentz26/uta/internal/uitree"
)

// State is the loop's position in its state machine.
type State string

const (
	StateDeclaring      State = "declaring"
	StateResolving      State = "resolving"
	StateActingOnUI     State = "acting_on_ui"
	StateNavigatingBack State = "navigating_back"
	StateLaunchingApp   State = "launching_app"
	StateFinished       State = "finished"
	StateFailed         State = "failed"
)

// ErrAwaitingClarification is returned when the task needs an answer from
// the user before it can run.
var ErrAwaitingClarification = errors.New("task awaiting clarification")

// ErrInterrupted is returned when the run context is cancelled mid-turn. The
// task is left non-terminal.
var ErrInterrupted = errors.New("run interrupted")

// Config tunes the loop.
type Config struct {
	MaxTurn             int
	Settle              time.Duration
	OracleTimeout       time.Duration
	MaxAppAttempts      int
	CaptureAttempts     int
	RetryDelay          time.Duration
	SimilarityThreshold float64
	DebugImages         bool
}

// DefaultConfig returns the standard loop settings.
func DefaultConfig() Config {
	return Config{
		MaxTurn:             20,
		Settle:              2 * time.Second,
		OracleTimeout:       60 * time.Second,
		MaxAppAttempts:      3,
		CaptureAttempts:     3,
		RetryDelay:          500 * time.Millisecond,
		SimilarityThreshold: 0.98,
	}
}

// ConfigFrom builds loop settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.MaxTurn = cfg.Loop.MaxTurn
	c.Settle = cfg.Loop.Settle
	c.OracleTimeout = cfg.Oracle.Timeout
	c.MaxAppAttempts = cfg.Loop.MaxAppAttempts
	c.CaptureAttempts = cfg.Loop.CaptureAttempts
	c.SimilarityThreshold = cfg.Loop.SimilarityThreshold
	c.DebugImages = cfg.Loop.DebugImages
	return c
}

// Recorder persists task progress after every step.
type Recorder interface {
	AppendStep(taskID string, step models.Step) error
	SaveTask(task *models.Task) error
}

// Auditor keeps a decision record per step.
type Auditor interface {
	Record(action string, inputs any, outcome, taskID, details string) (*models.PDREntry, error)
}

// Declarer prepares a task before automation.
type Declarer interface {
	Declare(ctx context.Context, task *models.Task) (question string, err error)
	Inquire(ctx context.Context, task *models.Task) error
}

// Deps are the loop's collaborators. Device and Oracle are required.
type Deps struct {
	Device   device.Surface
	Oracle   *oracle.Client
	Apps     apps.Recommender
	Declarer Declarer
	Recorder Recorder
	Auditor  Auditor
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// Loop runs tasks on one device. A Loop is not safe for concurrent use.
type Loop struct {
	cfg      Config
	device   device.Surface
	relation *resolver.RelationResolver
	action   *resolver.ActionResolver
	back     *resolver.BackResolver
	apps     apps.Recommender
	declarer Declarer
	recorder Recorder
	auditor  Auditor
	logger   *slog.Logger
	metrics  *metrics.Recorder
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a loop. Zero config fields take their defaults.
func New(cfg Config, deps Deps) *Loop {
	def := DefaultConfig()
	if cfg.MaxTurn <= 0 {
		cfg.MaxTurn = def.MaxTurn
	}
	if cfg.MaxAppAttempts <= 0 {
		cfg.MaxAppAttempts = def.MaxAppAttempts
	}
	if cfg.CaptureAttempts <= 0 {
		cfg.CaptureAttempts = def.CaptureAttempts
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}

	logger := logging.OrDefault(deps.Logger).With("component", "automation")
	recommender := deps.Apps
	if recommender == nil {
		recommender = apps.NewOracleRecommender(deps.Oracle, logger)
	}
	return &Loop{
		cfg:      cfg,
		device:   deps.Device,
		relation: resolver.NewRelationResolver(deps.Oracle, logger),
		action:   resolver.NewActionResolver(deps.Oracle, deps.Device, logger),
		back:     resolver.NewBackResolver(deps.Oracle, logger),
		apps:     recommender,
		declarer: deps.Declarer,
		recorder: deps.Recorder,
		auditor:  deps.Auditor,
		logger:   logger,
		metrics:  deps.Metrics,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives task until it is terminal. A terminal task is left untouched.
// Failures that end the task are recorded as a step and also returned.
func (l *Loop) Run(ctx context.Context, task *models.Task) error {
	if task.Terminal() {
		return nil
	}
	logger := l.logger.With("task_id", task.ID)

	if l.declarer != nil && task.Type == models.TaskTypeUnset {
		l.enter(StateDeclaring)
		q, err := l.declarer.Declare(ctx, task)
		if err != nil {
			return l.fail(ctx, task, l.newStep(), fmt.Errorf("declare task: %w", err))
		}
		if q != "" {
			task.Status = models.TaskStatusWaiting
			if err := l.save(task); err != nil {
				return err
			}
			logger.Info("task awaiting clarification", "question", q)
			return ErrAwaitingClarification
		}
	}
	if l.declarer != nil && task.Type == models.TaskTypeGeneralInquiry {
		if err := l.declarer.Inquire(ctx, task); err != nil {
			return l.fail(ctx, task, l.newStep(), fmt.Errorf("answer inquiry: %w", err))
		}
		l.finished(task)
		if err := l.checkpoint(task, task.LastStep()); err != nil {
			return err
		}
		return nil
	}

	task.Status = models.TaskStatusRunning
	if err := l.save(task); err != nil {
		return err
	}
	logger.Info("automation started", "goal", task.Goal(), "max_turn", l.cfg.MaxTurn)

	var prev *models.AutomationStep
	for {
		if len(task.AutomationSteps()) >= l.cfg.MaxTurn {
			task.Finish(models.ResultOverMaxTries)
			l.finished(task)
			logger.Warn("turn budget exhausted", "max_turn", l.cfg.MaxTurn)
			return l.save(task)
		}

		step, err := l.turn(ctx, task, prev)
		if err != nil {
			return err
		}
		if task.Terminal() {
			logger.Info("automation ended", "result", task.ExecutionResult, "steps", len(task.Steps))
			return nil
		}
		prev = step

		if err := l.sleep(ctx, l.cfg.Settle); err != nil {
			return fmt.Errorf("settle: %w", err)
		}
	}
}

// turn runs one Resolving visit and the branch it leads to. It appends
// exactly one step.
func (l *Loop) turn(ctx context.Context, task *models.Task, prev *models.AutomationStep) (*models.AutomationStep, error) {
	l.enter(StateResolving)
	step := l.newStep()

	snap, err := l.capture(ctx)
	if err != nil {
		return step, l.fail(ctx, task, step, err)
	}
	step.Snapshot = snap
	step.SnapshotID = snap.ID
	step.ForegroundApp = snap.ForegroundApp
	l.checkProgress(task, prev, snap)

	excluded := append([]int(nil), task.ExcludedElements...)
	rel, err := decide(ctx, l.cfg.OracleTimeout, func(ctx context.Context) (models.Relation, error) {
		return l.relation.Resolve(ctx, task, snap, excluded)
	})
	if err != nil {
		return step, l.fail(ctx, task, step, err)
	}
	step.Relation = &rel

	switch {
	case rel.Kind == models.RelationCompleted:
		step.Action = &models.Action{Kind: models.ActionComplete, Reason: rel.Reason}
		step.ExecutionResult = models.ResultFinish
		return step, l.commit(task, step, models.ResultFinish)
	case rel.Kind.Related():
		return step, l.actOnUI(ctx, task, step, snap, rel, excluded)
	default:
		return step, l.escape(ctx, task, step, snap)
	}
}

func (l *Loop) actOnUI(ctx context.Context, task *models.Task, step *models.AutomationStep, snap *uitree.Snapshot, rel models.Relation, excluded []int) error {
	l.enter(StateActingOnUI)
	act, err := decide(ctx, l.cfg.OracleTimeout, func(ctx context.Context) (models.Action, error) {
		return l.action.Resolve(ctx, task, snap, excluded)
	})
	if err != nil {
		return l.fail(ctx, task, step, err)
	}
	if act.IsNone() {
		if rel.ElementID != nil {
			task.ExcludeElements(*rel.ElementID)
		}
		l.logger.Info("no usable action, looking for a way back", "task_id", task.ID, "reason", act.Reason)
		return l.escape(ctx, task, step, snap)
	}

	el, err := snap.Lookup(*act.ElementID)
	if err != nil {
		return l.fail(ctx, task, step, models.NewDeviceError("lookup target", err))
	}
	if err := l.perform(ctx, act, el.Bounds); err != nil {
		return l.fail(ctx, task, step, err)
	}
	l.attachDebugImage(snap, el)
	step.Action = &act
	return l.commit(task, step, "")
}

// escape handles a screen that cannot serve the task: go back when a back
// control is visible, otherwise relaunch a related app.
func (l *Loop) escape(ctx context.Context, task *models.Task, step *models.AutomationStep, snap *uitree.Snapshot) error {
	l.enter(StateNavigatingBack)
	back, err := decide(ctx, l.cfg.OracleTimeout, func(ctx context.Context) (models.BackAvailability, error) {
		return l.back.Resolve(ctx, task, snap)
	})
	if err != nil {
		return l.fail(ctx, task, step, err)
	}
	if back.Can && back.ElementID != nil {
		el, err := snap.Lookup(*back.ElementID)
		if err != nil {
			return l.fail(ctx, task, step, models.NewDeviceError("lookup back control", err))
		}
		act := models.Action{Kind: models.ActionClick, ElementID: back.ElementID, Reason: back.Reason}
		if err := l.perform(ctx, act, el.Bounds); err != nil {
			return l.fail(ctx, task, step, err)
		}
		l.attachDebugImage(snap, el)
		step.Action = &act
		step.IsGoBack = true
		return l.commit(task, step, "")
	}

	l.enter(StateLaunchingApp)
	if launchedBefore(task, snap.ForegroundApp) {
		task.ExcludeApp(snap.ForegroundApp)
	}
	return l.relaunch(ctx, task, step)
}

// launchedBefore reports whether an earlier step launched pkg.
func launchedBefore(task *models.Task, pkg string) bool {
	if pkg == "" {
		return false
	}
	for _, s := range task.AutomationSteps() {
		if s.Action != nil && s.Action.Kind == models.ActionLaunchApp && s.Action.Package == pkg {
			return true
		}
	}
	return false
}

func (l *Loop) relaunch(ctx context.Context, task *models.Task, step *models.AutomationStep) error {
	installed, err := l.device.InstalledApps(ctx)
	if err != nil {
		return l.fail(ctx, task, step, models.NewDeviceError("installed apps", err))
	}

	for attempt := 1; attempt <= l.cfg.MaxAppAttempts; attempt++ {
		pkg, err := decide(ctx, l.cfg.OracleTimeout, func(ctx context.Context) (string, error) {
			return l.apps.Recommend(ctx, task, installed, task.ExcludedApps)
		})
		if err != nil {
			return l.fail(ctx, task, step, err)
		}
		if pkg == "" {
			l.logger.Info("no app left to launch", "task_id", task.ID, "attempt", attempt)
			break
		}

		if err := l.launch(ctx, pkg); err != nil {
			l.logger.Warn("app launch failed", "task_id", task.ID, "package", pkg, "attempt", attempt, "error", err)
			task.ExcludeApp(pkg)
			continue
		}
		step.Action = &models.Action{
			Kind:    models.ActionLaunchApp,
			Package: pkg,
			Reason:  fmt.Sprintf("relaunch attempt %d", attempt),
		}
		return l.commit(task, step, "")
	}

	step.ExecutionResult = models.ResultAppLaunchExhausted
	return l.commit(task, step, models.ResultAppLaunchExhausted)
}

// launch starts pkg and waits one settle period for it to reach the
// foreground.
func (l *Loop) launch(ctx context.Context, pkg string) error {
	err := l.device.LaunchApp(ctx, pkg)
	l.metrics.DeviceAction(string(models.ActionLaunchApp), err)
	if err != nil {
		return err
	}
	if err := l.sleep(ctx, l.cfg.Settle); err != nil {
		return err
	}
	fg, err := l.device.CurrentForegroundApp(ctx)
	if err != nil {
		return err
	}
	if fg != pkg {
		return fmt.Errorf("foreground is %q", fg)
	}
	return nil
}

// checkProgress excludes the previous target when the screen did not change
// after acting on it. A click on an input field only raises the keyboard,
// so it is not counted.
func (l *Loop) checkProgress(task *models.Task, prev *models.AutomationStep, snap *uitree.Snapshot) {
	if prev == nil || prev.Snapshot == nil || prev.Action == nil || prev.Action.ElementID == nil || !prev.Action.Kind.TargetsElement() {
		return
	}
	if prev.Action.Kind == models.ActionClick {
		if el, err := prev.Snapshot.Lookup(*prev.Action.ElementID); err == nil && el.InputCapable() {
			return
		}
	}
	sim := snap.Similarity(prev.Snapshot)
	if sim < l.cfg.SimilarityThreshold {
		return
	}
	task.ExcludeElements(*prev.Action.ElementID)
	l.logger.Info("screen unchanged after action, excluding target",
		"task_id", task.ID, "element", *prev.Action.ElementID, "similarity", sim)
}

func (l *Loop) capture(ctx context.Context) (*uitree.Snapshot, error) {
	return backoff.Retry(ctx, func() (*uitree.Snapshot, error) {
		return device.Capture(ctx, l.device)
	}, l.retryOptions()...)
}

func (l *Loop) perform(ctx context.Context, act models.Action, target uitree.Bounds) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, l.device.Perform(ctx, act, target)
	}, l.retryOptions()...)
	l.metrics.DeviceAction(string(act.Kind), err)
	if err != nil {
		return models.NewDeviceError("perform "+act.String(), err)
	}
	return nil
}

func (l *Loop) retryOptions() []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithMaxTries(uint(l.cfg.CaptureAttempts)),
		backoff.WithBackOff(backoff.NewConstantBackOff(l.cfg.RetryDelay)),
	}
}

func (l *Loop) attachDebugImage(snap *uitree.Snapshot, el *uitree.Element) {
	if !l.cfg.DebugImages {
		return
	}
	if err := snap.AttachDebugImage(el); err != nil {
		l.logger.Debug("debug image skipped", "error", err)
	}
}

// decide bounds one oracle-backed call. A deadline hit is a decision failure.
func decide[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrDecisionFailure) {
		err = models.NewDecisionError("deadline", "", err)
	}
	return v, err
}

// interrupted reports whether the run context was cancelled. A per-call
// oracle deadline does not cancel it.
func interrupted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (l *Loop) newStep() *models.AutomationStep {
	return &models.AutomationStep{ID: uuid.New().String(), CreatedAt: time.Now().UTC()}
}

// fail records step with the error text and ends the task as Failed. When
// the run itself was cancelled nothing is recorded and the task keeps its
// status so the caller can requeue it.
func (l *Loop) fail(ctx context.Context, task *models.Task, step *models.AutomationStep, cause error) error {
	if interrupted(ctx) {
		l.logger.Warn("task interrupted", "task_id", task.ID, "error", cause)
		return fmt.Errorf("%w: %w", ErrInterrupted, cause)
	}
	step.Error = cause.Error()
	step.ExecutionResult = models.ResultFailed
	l.logger.Error("task failed", "task_id", task.ID, "error", cause)
	if err := l.commit(task, step, models.ResultFailed); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// commit appends step, applies a terminal result and persists both.
func (l *Loop) commit(task *models.Task, step *models.AutomationStep, result string) error {
	if err := task.AppendStep(step); err != nil {
		return err
	}
	if result != "" {
		task.Finish(result)
		l.finished(task)
	}
	l.audit(task, step)
	return l.checkpoint(task, step)
}

func (l *Loop) checkpoint(task *models.Task, step models.Step) error {
	if l.recorder == nil {
		return nil
	}
	if step != nil {
		if err := l.recorder.AppendStep(task.ID, step); err != nil {
			return fmt.Errorf("checkpoint step: %w", err)
		}
	}
	return l.save(task)
}

func (l *Loop) save(task *models.Task) error {
	if l.recorder == nil {
		return nil
	}
	if err := l.recorder.SaveTask(task); err != nil {
		return fmt.Errorf("checkpoint task: %w", err)
	}
	return nil
}

func (l *Loop) audit(task *models.Task, step *models.AutomationStep) {
	if l.auditor == nil {
		return
	}
	inputs := map[string]any{
		"goal":              task.Goal(),
		"snapshot_id":       step.SnapshotID,
		"excluded_elements": task.ExcludedElements,
		"excluded_apps":     task.ExcludedApps,
	}
	outcome := step.ExecutionResult
	if outcome == "" && step.Action != nil {
		outcome = step.Action.String()
	}
	details := ""
	if step.Relation != nil {
		details = fmt.Sprintf("relation=%s reason=%s", step.Relation.Kind, step.Relation.Reason)
	}
	if step.Error != "" {
		details = step.Error
	}
	if _, err := l.auditor.Record("automation_step", inputs, outcome, task.ID, details); err != nil {
		l.logger.Warn("decision record not written", "task_id", task.ID, "error", err)
	}
}

func (l *Loop) enter(s State) {
	l.metrics.Turn(string(s))
}

func (l *Loop) finished(task *models.Task) {
	state := StateFinished
	if task.Status == models.TaskStatusFailed {
		state = StateFailed
	}
	l.enter(state)
	l.metrics.TaskFinished(string(task.Status))
}
