package controlplane

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fentz26/uta/internal/audit"
	"github.com/fentz26/uta/internal/metrics"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/store"
)

type testEnv struct {
	store  *store.Store
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := prometheus.NewRegistry()
	metrics.New(registry).TaskFinished("finished")

	server := NewServer(NewService(st, audit.NewPDRWriter(st)), registry, "127.0.0.1:0", "test")
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{store: st, server: server, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func TestHealthEndpoint_OK(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	health := decode[HealthResponse](t, resp)
	if !health.OK || health.DB != "ok" {
		t.Errorf("Unexpected health: %+v", health)
	}
	if health.Version != "test" {
		t.Errorf("Expected version test, got %q", health.Version)
	}
	if _, err := time.Parse(time.RFC3339, health.Time); err != nil {
		t.Errorf("Expected RFC3339 time, got %q", health.Time)
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	e.server.handleHealth(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	e := newTestEnv(t)
	e.store.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	e.server.handleHealth(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if health.OK || health.DB == "ok" {
		t.Errorf("Expected DB failure in health, got %+v", health)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/tasks", `{"user_id":"u1","description":"Call Tom"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	created := decode[models.Task](t, resp)
	if created.ID == "" || created.Status != models.TaskStatusPending {
		t.Fatalf("Unexpected task: %+v", created)
	}

	got := decode[models.Task](t, e.do(t, http.MethodGet, "/tasks/"+created.ID, ""))
	if got.Description != "Call Tom" || got.UserID != "u1" {
		t.Errorf("Unexpected task: %+v", got)
	}

	tasks := decode[[]models.Task](t, e.do(t, http.MethodGet, "/tasks?status=pending", ""))
	if len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Errorf("Expected the pending task in list, got %+v", tasks)
	}
	entries := decode[[]models.PDREntry](t, e.do(t, http.MethodGet, "/tasks/"+created.ID+"/audit", ""))
	if len(entries) != 1 || entries[0].Action != "task.create" {
		t.Errorf("Expected a task.create record, got %+v", entries)
	}
}

func TestErrorStatuses(t *testing.T) {
	e := newTestEnv(t)
	task, err := e.store.CreateTask("u1", "Call Tom")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"empty description", http.MethodPost, "/tasks", `{"description":"  "}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/tasks", `{`, http.StatusBadRequest},
		{"unknown status", http.MethodGet, "/tasks?status=sleeping", "", http.StatusBadRequest},
		{"missing task", http.MethodGet, "/tasks/nope", "", http.StatusNotFound},
		{"missing steps", http.MethodGet, "/tasks/nope/steps", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/tasks/" + task.ID + "/logs", "", http.StatusNotFound},
		{"clarify not waiting", http.MethodPost, "/tasks/" + task.ID + "/clarify", `{"answer":"yes"}`, http.StatusConflict},
		{"clarify empty", http.MethodPost, "/tasks/" + task.ID + "/clarify", `{"answer":""}`, http.StatusBadRequest},
		{"method", http.MethodDelete, "/tasks", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestGetSteps(t *testing.T) {
	e := newTestEnv(t)
	task, _ := e.store.CreateTask("u1", "Call Tom")
	step := &models.AutomationStep{ID: "s1", Action: &models.Action{Kind: models.ActionClick, ElementID: models.IntPtr(3)}}
	if err := task.AppendStep(step); err != nil {
		t.Fatalf("AppendStep failed: %v", err)
	}
	if err := e.store.AppendStep(task.ID, step); err != nil {
		t.Fatalf("store AppendStep failed: %v", err)
	}

	steps := decode[[]models.StepEnvelope](t, e.do(t, http.MethodGet, "/tasks/"+task.ID+"/steps", ""))
	if len(steps) != 1 || steps[0].Kind != models.StepKindAutomation {
		t.Fatalf("Unexpected steps: %+v", steps)
	}
	decoded, err := models.DecodeStep(steps[0])
	if err != nil {
		t.Fatalf("DecodeStep failed: %v", err)
	}
	if got := decoded.(*models.AutomationStep).Action.String(); got != "Click 3" {
		t.Errorf("Expected Click 3, got %q", got)
	}
}

func TestClarifyRequeuesWaitingTask(t *testing.T) {
	e := newTestEnv(t)
	task, _ := e.store.CreateTask("u1", "Message him")
	task.Status = models.TaskStatusWaiting
	task.Clarifications = []models.DialogueTurn{{Question: "Who is him?"}}
	if err := e.store.SaveTask(task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	resp := e.do(t, http.MethodPost, "/tasks/"+task.ID+"/clarify", `{"answer":" Tom "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	got, _ := e.store.GetTask(task.ID)
	if got.Status != models.TaskStatusPending {
		t.Errorf("Expected pending after clarify, got %s", got.Status)
	}
	want := []models.DialogueTurn{{Question: "Who is him?", Answer: "Tom"}}
	if diff := cmp.Diff(want, got.Clarifications, cmpIgnoreAt); diff != "" {
		t.Errorf("Clarifications mismatch (-want +got):\n%s", diff)
	}
}

var cmpIgnoreAt = cmp.Comparer(func(a, b time.Time) bool { return true })

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `uta_tasks_finished_total{status="finished"} 1`) {
		t.Errorf("Expected finished counter in metrics output:\n%s", body)
	}
}
