package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fentz26/uta/internal/automation"
	"github.com/fentz26/uta/internal/declare"
	"github.com/fentz26/uta/internal/models"
)

var runCmd = &cobra.Command{
	Use:   "run <task description>",
	Short: "Run one task on a device in the foreground",
	Long: `Creates a task and drives it on the device until it finishes. Clarification
questions are asked on the terminal. Use --task to resume a stored task.`,
	RunE: runRun,
}

var (
	runDevice string
	runUser   string
	runTaskID string
)

func init() {
	runCmd.Flags().StringVar(&runDevice, "device", "", "Device serial (default from config)")
	runCmd.Flags().StringVar(&runUser, "user", currentUser(), "User the task belongs to")
	runCmd.Flags().StringVar(&runTaskID, "task", "", "Resume a stored task instead of creating one")
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "anonymous"
}

func runRun(cmd *cobra.Command, args []string) error {
	description := strings.TrimSpace(strings.Join(args, " "))
	if description == "" && runTaskID == "" {
		return fmt.Errorf("a task description or --task is required")
	}
	if runDevice == "" {
		runDevice = cfg.Device.Serial
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := loadOrCreateTask(st, description)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s: %s\n", task.ID, task.Description)

	in := bufio.NewReader(os.Stdin)
	for {
		err = st.runTask(ctx, runDevice, task)
		if errors.Is(err, automation.ErrInterrupted) {
			// Leave it resumable with --task.
			if uerr := st.store.UpdateTaskStatus(task.ID, models.TaskStatusPending); uerr != nil {
				return errors.Join(err, uerr)
			}
			fmt.Printf("Interrupted. Resume with: uta run --task %s\n", task.ID)
			return err
		}
		if task.Status != models.TaskStatusWaiting {
			break
		}
		if err := askUser(ctx, in, task); err != nil {
			return err
		}
		task.Status = models.TaskStatusPending
		if err := st.store.SaveTask(task); err != nil {
			return err
		}
	}

	printOutcome(task)
	return err
}

func loadOrCreateTask(st *stack, description string) (*models.Task, error) {
	if runTaskID == "" {
		return st.store.CreateTask(runUser, description)
	}
	task, err := st.store.GetTask(runTaskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s not found", runTaskID)
	}
	return task, nil
}

// askUser prints the open question and records the typed answer.
func askUser(ctx context.Context, in *bufio.Reader, task *models.Task) error {
	fmt.Printf("? %s\n> ", declare.PendingQuestion(task))
	answer, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && answer != "") {
		return fmt.Errorf("read answer: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return declare.Answer(task, answer)
}

func printOutcome(task *models.Task) {
	for _, s := range task.Steps {
		switch st := s.(type) {
		case *models.AutomationStep:
			line := fmt.Sprintf("%3d ", st.Seq)
			if st.Relation != nil {
				line += fmt.Sprintf("[%s] ", st.Relation.Kind)
			}
			if st.Action != nil {
				line += st.Action.String()
			}
			if st.IsGoBack {
				line += " (back)"
			}
			if st.Error != "" {
				line += " error: " + st.Error
			}
			fmt.Println(line)
		case *models.InquiryStep:
			fmt.Println(st.Response)
		}
	}
	fmt.Printf("Result: %s (%s)\n", task.ExecutionResult, task.Status)
}
