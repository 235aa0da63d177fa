package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fentz26/uta/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the UTA API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListTasks fetches tasks from the API
func (c *Client) ListTasks(status string) ([]TaskItem, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var tasks []models.Task
	if err := c.get(path, &tasks); err != nil {
		return nil, err
	}

	items := make([]TaskItem, len(tasks))
	for i, t := range tasks {
		items[i] = TaskItem{
			ID:          t.ID,
			Description: t.Description,
			Status:      string(t.Status),
			Result:      t.ExecutionResult,
		}
	}
	return items, nil
}

// GetTask fetches a single task
func (c *Client) GetTask(id string) (*TaskDetail, error) {
	var t models.Task
	if err := c.get("/tasks/"+id, &t); err != nil {
		return nil, err
	}

	d := &TaskDetail{
		ID:           t.ID,
		UserID:       t.UserID,
		Description:  t.Description,
		Type:         string(t.Type),
		Status:       string(t.Status),
		Result:       t.ExecutionResult,
		Subtasks:     t.Subtasks,
		ExcludedApps: t.ExcludedApps,
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    t.UpdatedAt.Format(time.RFC3339),
	}
	for _, turn := range t.Clarifications {
		d.Clarifications = append(d.Clarifications, Turn{Question: turn.Question, Answer: turn.Answer})
	}
	return d, nil
}

// GetSteps fetches the step history of a task
func (c *Client) GetSteps(taskID string) ([]StepDetail, error) {
	var envelopes []models.StepEnvelope
	if err := c.get("/tasks/"+taskID+"/steps", &envelopes); err != nil {
		return nil, err
	}

	details := make([]StepDetail, 0, len(envelopes))
	for _, e := range envelopes {
		s, err := models.DecodeStep(e)
		if err != nil {
			return nil, err
		}
		details = append(details, summarizeStep(s))
	}
	return details, nil
}

func summarizeStep(s models.Step) StepDetail {
	d := StepDetail{Seq: s.Sequence(), Kind: string(s.Kind())}
	switch st := s.(type) {
	case *models.AutomationStep:
		var parts []string
		if st.Relation != nil {
			parts = append(parts, string(st.Relation.Kind))
		}
		if st.Action != nil {
			action := st.Action.String()
			if st.IsGoBack {
				action = "back: " + action
			}
			parts = append(parts, action)
		}
		d.Summary = strings.Join(parts, " | ")
		d.Result = st.ExecutionResult
		d.Error = st.Error
	case *models.InquiryStep:
		d.Summary = fmt.Sprintf("%s => %s", st.UserMessage, st.Response)
	}
	return d
}

// GetAudit fetches decision records for a task
func (c *Client) GetAudit(taskID string) ([]AuditDetail, error) {
	var entries []models.PDREntry
	if err := c.get("/tasks/"+taskID+"/audit", &entries); err != nil {
		return nil, err
	}

	details := make([]AuditDetail, len(entries))
	for i, e := range entries {
		details[i] = AuditDetail{
			Action:    e.Action,
			Outcome:   e.Outcome,
			Details:   e.Details,
			Timestamp: e.Timestamp.Format(time.RFC3339),
		}
	}
	return details, nil
}

// CreateTask creates a new task
func (c *Client) CreateTask(userID, description string) (string, error) {
	body := map[string]string{
		"user_id":     userID,
		"description": description,
	}
	resp, err := c.post("/tasks", body)
	if err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// Clarify answers the open question of a waiting task
func (c *Client) Clarify(taskID, answer string) error {
	_, err := c.post("/tasks/"+taskID+"/clarify", map[string]string{"answer": answer})
	return err
}

func (c *Client) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", strings.TrimSpace(string(body)))
	}

	return body, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}
