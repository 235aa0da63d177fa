package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/uta/internal/audit"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("Timeout waiting for %s", what)
		case <-ticker.C:
		}
	}
}

// blockingRunner holds every task until released or cancelled.
func blockingRunner(release <-chan struct{}) RunnerFunc {
	return func(ctx context.Context, device string, task *models.Task) error {
		select {
		case <-release:
			task.Finish(models.ResultFinish)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestSchedulerConcurrencyLimits(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	cfg := &Config{GlobalMax: 2, Devices: []string{"a", "b", "c"}, PollInterval: 10 * time.Millisecond}
	release := make(chan struct{})
	sch := New(s, audit.NewPDRWriter(s), blockingRunner(release), cfg)

	for i := 0; i < 5; i++ {
		if _, err := s.CreateTask("u1", "task"); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
	}

	sch.Start()
	defer sch.Stop()

	waitFor(t, 5*time.Second, "workers", func() bool {
		return sch.GetStats()["active_workers"].(int) == 2
	})
	// Give the scheduler a moment to exceed limits if buggy
	time.Sleep(100 * time.Millisecond)

	stats := sch.GetStats()
	if c := stats["capacity"].(int); c != 2 {
		t.Errorf("Capacity %d, want 2", c)
	}
	if n := stats["active_workers"].(int); n != 2 {
		t.Errorf("Active workers %d, want global max 2", n)
	}
	busy := stats["busy_devices"].(map[string]string)
	if len(busy) != 2 {
		t.Errorf("Expected 2 busy devices, got %v", busy)
	}
	seen := map[string]bool{}
	for _, taskID := range busy {
		if seen[taskID] {
			t.Errorf("Task %s runs on two devices", taskID)
		}
		seen[taskID] = true
	}

	running, _ := s.ListTasks(string(models.TaskStatusRunning))
	if len(running) != 2 {
		t.Errorf("Expected 2 running tasks, got %d", len(running))
	}
	close(release)
}

func TestSchedulerRunsQueueToCompletion(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	var mu sync.Mutex
	ran := map[string]string{}
	runner := RunnerFunc(func(ctx context.Context, device string, task *models.Task) error {
		mu.Lock()
		ran[task.ID] = device
		mu.Unlock()
		task.Finish(models.ResultFinish)
		return s.SaveTask(task)
	})
	cfg := &Config{GlobalMax: 4, Devices: []string{"emulator-5554"}, PollInterval: 10 * time.Millisecond}
	sch := New(s, audit.NewPDRWriter(s), runner, cfg)

	var ids []string
	for i := 0; i < 3; i++ {
		task, _ := s.CreateTask("u1", "task")
		ids = append(ids, task.ID)
	}

	sch.Start()
	defer sch.Stop()

	waitFor(t, 5*time.Second, "all tasks finished", func() bool {
		done, _ := s.ListTasks(string(models.TaskStatusFinished))
		return len(done) == len(ids)
	})

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		if ran[id] != "emulator-5554" {
			t.Errorf("Task %s ran on %q", id, ran[id])
		}
		entries, err := s.ListPDR(id)
		if err != nil || len(entries) == 0 || entries[0].Action != "task.dispatch" {
			t.Errorf("Expected a dispatch record for %s, got %v, %v", id, entries, err)
		}
	}
}

func TestSchedulerRequeuesInterruptedTask(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	cfg := &Config{GlobalMax: 1, Devices: []string{""}, PollInterval: 10 * time.Millisecond}
	sch := New(s, audit.NewPDRWriter(s), blockingRunner(nil), cfg)

	task, _ := s.CreateTask("u1", "task")
	sch.Start()
	waitFor(t, 5*time.Second, "dispatch", func() bool {
		return sch.GetStats()["active_workers"].(int) == 1
	})
	sch.Stop()

	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.TaskStatusPending {
		t.Errorf("Expected interrupted task back to pending, got %s", got.Status)
	}
}

func TestConfigCapacity(t *testing.T) {
	if c := (&Config{GlobalMax: 4, Devices: []string{"a"}}).Capacity(); c != 1 {
		t.Errorf("Expected capacity 1, got %d", c)
	}
	if c := (&Config{GlobalMax: 2, Devices: []string{"a", "b", "c"}}).Capacity(); c != 2 {
		t.Errorf("Expected capacity 2, got %d", c)
	}
}
