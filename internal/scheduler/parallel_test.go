package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/fentz26/uta/internal/audit"
	"github.com/fentz26/uta/internal/models"
)

// Test10ParallelDevices verifies that ten devices each run their own task at
// the same time without any task being claimed twice.
func Test10ParallelDevices(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	devices := make([]string, 10)
	for i := range devices {
		devices[i] = fmt.Sprintf("emulator-%d", 5554+2*i)
	}
	cfg := &Config{GlobalMax: 10, Devices: devices, PollInterval: 10 * time.Millisecond}
	release := make(chan struct{})
	sch := New(s, audit.NewPDRWriter(s), blockingRunner(release), cfg)

	numTasks := 10
	for i := 0; i < numTasks; i++ {
		if _, err := s.CreateTask("u1", "Parallel Task"); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
	}

	sch.Start()
	defer sch.Stop()

	waitFor(t, 10*time.Second, "10 active workers", func() bool {
		return sch.GetStats()["active_workers"].(int) == numTasks
	})

	busy := sch.GetStats()["busy_devices"].(map[string]string)
	if len(busy) != numTasks {
		t.Errorf("Expected %d busy devices, got %d", numTasks, len(busy))
	}
	uniqueTasks := make(map[string]bool)
	for device, taskID := range busy {
		if uniqueTasks[taskID] {
			t.Errorf("Task %s claimed by more than one device (again on %s)", taskID, device)
		}
		uniqueTasks[taskID] = true
	}

	running, err := s.ListTasks(string(models.TaskStatusRunning))
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(running) != numTasks {
		t.Errorf("Expected %d running tasks, got %d", numTasks, len(running))
	}
	close(release)
}
