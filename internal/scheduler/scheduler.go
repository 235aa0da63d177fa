package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/uta/internal/audit"
	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/store"
)

// Runner executes one claimed task on one device.
type Runner interface {
	Run(ctx context.Context, device string, task *models.Task) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, device string, task *models.Task) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, device string, task *models.Task) error {
	return f(ctx, device, task)
}

// Scheduler manages task dispatching and worker pools.
type Scheduler struct {
	store  *store.Store
	pdr    *audit.PDRWriter
	runner Runner
	config *Config
	logger *slog.Logger

	// Worker pool state
	mu            sync.Mutex
	activeWorkers int
	busy          map[string]string // device serial -> task id

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler.
func New(s *store.Store, pdr *audit.PDRWriter, runner Runner, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:  s,
		pdr:    pdr,
		runner: runner,
		config: cfg,
		logger: logging.With("component", "scheduler"),
		busy:   make(map[string]string),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	sch.logger.Info("scheduler started", "devices", len(sch.config.Devices), "global_max", sch.config.GlobalMax, "capacity", sch.config.Capacity())
}

// Stop cancels running workers and waits for them to return.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.logger.Info("scheduler stopped")
}

// schedulerLoop polls for pending tasks and dispatches them to workers.
func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	interval := sch.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sch.pollAndDispatch()
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// freeDevice returns a device with no running task, or false when the pool
// is full.
func (sch *Scheduler) freeDevice() (string, bool) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.activeWorkers >= sch.config.Capacity() {
		return "", false
	}
	for _, d := range sch.config.Devices {
		if _, taken := sch.busy[d]; !taken {
			return d, true
		}
	}
	return "", false
}

// pollAndDispatch claims pending tasks while a device is free.
func (sch *Scheduler) pollAndDispatch() {
	for sch.ctx.Err() == nil {
		device, ok := sch.freeDevice()
		if !ok {
			return
		}

		task, err := sch.store.ClaimNextPending()
		if errors.Is(err, store.ErrNoPendingTask) {
			return
		}
		if err != nil {
			sch.logger.Error("claim task failed", "error", err)
			return
		}

		workerID := uuid.New().String()
		sch.pdr.Record("task.dispatch", map[string]interface{}{
			"task_id":   task.ID,
			"worker_id": workerID,
			"device":    device,
		}, "success", task.ID, fmt.Sprintf("Dispatched to worker %s on device %q", workerID, device))
		sch.logger.Info("task dispatched", "task_id", task.ID, "worker_id", workerID, "device", device)

		sch.mu.Lock()
		sch.activeWorkers++
		sch.busy[device] = task.ID
		sch.mu.Unlock()

		sch.wg.Add(1)
		go sch.runWorker(device, task, workerID)
	}
}

// runWorker executes a task on its device.
func (sch *Scheduler) runWorker(device string, task *models.Task, workerID string) {
	defer sch.wg.Done()
	defer func() {
		sch.mu.Lock()
		sch.activeWorkers--
		delete(sch.busy, device)
		sch.mu.Unlock()
	}()

	logger := sch.logger.With("task_id", task.ID, "worker_id", workerID, "device", device)
	err := sch.runner.Run(sch.ctx, device, task)
	switch {
	case err == nil:
		logger.Info("worker finished", "result", task.ExecutionResult)
	case task.Terminal():
		logger.Warn("worker finished with failure", "result", task.ExecutionResult, "error", err)
	default:
		logger.Warn("worker stopped", "error", err)
	}

	// A task interrupted mid-run goes back to the queue.
	if !task.Terminal() && task.Status == models.TaskStatusRunning {
		if err := sch.store.UpdateTaskStatus(task.ID, models.TaskStatusPending); err != nil {
			logger.Error("requeue task failed", "error", err)
		}
	}
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	busy := make(map[string]string, len(sch.busy))
	for k, v := range sch.busy {
		busy[k] = v
	}

	return map[string]interface{}{
		"active_workers": sch.activeWorkers,
		"global_max":     sch.config.GlobalMax,
		"capacity":       sch.config.Capacity(),
		"busy_devices":   busy,
	}
}
