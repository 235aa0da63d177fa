package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/uta/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks through the daemon",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Queue a new task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskStepsCmd = &cobra.Command{
	Use:   "steps [task-id]",
	Short: "Show the step history of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskSteps,
}

var taskAuditCmd = &cobra.Command{
	Use:   "audit [task-id]",
	Short: "Show the decision records of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAudit,
}

var taskClarifyCmd = &cobra.Command{
	Use:   "clarify [task-id] <answer>",
	Short: "Answer a waiting task's question and requeue it",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTaskClarify,
}

var (
	taskUser   string
	taskStatus string
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskStepsCmd, taskAuditCmd, taskClarifyCmd)

	taskAddCmd.Flags().StringVar(&taskUser, "user", currentUser(), "User the task belongs to")
	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (pending, waiting, running, finished, failed)")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"user_id":     taskUser,
		"description": strings.Join(args, " "),
	}

	var task models.Task
	if err := apiPost("/tasks", body, &task); err != nil {
		return err
	}

	fmt.Printf("Created task: %s\n", task.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	path := "/tasks"
	if taskStatus != "" {
		path += "?status=" + url.QueryEscape(taskStatus)
	}

	var tasks []models.Task
	if err := apiGet(path, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDESCRIPTION\tSTATUS\tRESULT")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncateID(t.ID), truncate(t.Description, 40), t.Status, t.ExecutionResult)
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	var task models.Task
	if err := apiGet("/tasks/"+args[0], &task); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("User:        %s\n", task.UserID)
	fmt.Printf("Description: %s\n", task.Description)
	fmt.Printf("Status:      %s\n", task.Status)
	if task.Type != models.TaskTypeUnset {
		fmt.Printf("Type:        %s\n", task.Type)
	}
	if task.ExecutionResult != "" {
		fmt.Printf("Result:      %s\n", task.ExecutionResult)
	}
	if len(task.Subtasks) > 0 {
		fmt.Printf("Subtasks:    %s\n", strings.Join(task.Subtasks, "; "))
	}
	for _, turn := range task.Clarifications {
		answer := turn.Answer
		if answer == "" {
			answer = "(waiting)"
		}
		fmt.Printf("Q: %s\nA: %s\n", turn.Question, answer)
	}
	fmt.Printf("Steps:       %d\n", len(task.Steps))
	fmt.Printf("Created:     %s\n", task.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:     %s\n", task.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runTaskSteps(cmd *cobra.Command, args []string) error {
	var envelopes []models.StepEnvelope
	if err := apiGet("/tasks/"+args[0]+"/steps", &envelopes); err != nil {
		return err
	}
	if len(envelopes) == 0 {
		fmt.Println("No steps recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tAPP\tRELATION\tACTION\tRESULT")
	for _, e := range envelopes {
		s, err := models.DecodeStep(e)
		if err != nil {
			return err
		}
		switch st := s.(type) {
		case *models.AutomationStep:
			relation, action := "", ""
			if st.Relation != nil {
				relation = string(st.Relation.Kind)
			}
			if st.Action != nil {
				action = st.Action.String()
			}
			if st.IsGoBack {
				action += " (back)"
			}
			result := st.ExecutionResult
			if st.Error != "" {
				result = strings.TrimSpace(result + " " + st.Error)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", st.Seq, st.ForegroundApp, relation, action, result)
		case *models.InquiryStep:
			fmt.Fprintf(w, "%d\t\tinquiry\t%s\t%s\n", st.Seq, truncate(st.UserMessage, 30), truncate(st.Response, 60))
		}
	}
	w.Flush()
	return nil
}

func runTaskAudit(cmd *cobra.Command, args []string) error {
	var entries []models.PDREntry
	if err := apiGet("/tasks/"+args[0]+"/audit", &entries); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Format("15:04:05"), e.Action, e.Outcome, truncate(e.Details, 60))
	}
	w.Flush()
	return nil
}

func runTaskClarify(cmd *cobra.Command, args []string) error {
	body := map[string]string{"answer": strings.Join(args[1:], " ")}
	if err := apiPost("/tasks/"+args[0]+"/clarify", body, nil); err != nil {
		return err
	}
	fmt.Printf("Answered task %s, requeued\n", args[0])
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
