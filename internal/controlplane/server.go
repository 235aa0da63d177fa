package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/models"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server provides the HTTP API for UTA.
type Server struct {
	service  *Service
	registry *prometheus.Registry
	addr     string
	version  string
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new HTTP server. A nil registry disables /metrics.
func NewServer(service *Service, registry *prometheus.Registry, addr, version string) *Server {
	return &Server{
		service:  service,
		registry: registry,
		addr:     addr,
		version:  version,
		logger:   logging.With("component", "controlplane"),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Task endpoints
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)

	mux.HandleFunc("/health", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("starting UTA daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleTasks handles POST /tasks and GET /tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTask(w, r)
	case http.MethodGet:
		s.listTasks(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTaskByID handles /tasks/{id}/*
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getTask(w, taskID)
	case action == "steps" && r.Method == http.MethodGet:
		s.getSteps(w, taskID)
	case action == "audit" && r.Method == http.MethodGet:
		s.getAudit(w, taskID)
	case action == "clarify" && r.Method == http.MethodPost:
		s.clarifyTask(w, r, taskID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{OK: true, DB: "ok", Version: s.version, Time: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK
	if err := s.service.Health(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// writeError reports err with the status its sentinel maps to.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Task Handlers ---

type createTaskRequest struct {
	UserID      string `json:"user_id"`
	Description string `json:"description"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	task, err := s.service.CreateTask(req.UserID, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.service.ListTasks(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, taskID string) {
	task, err := s.service.GetTask(taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getSteps(w http.ResponseWriter, taskID string) {
	steps, err := s.service.GetSteps(taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) getAudit(w http.ResponseWriter, taskID string) {
	entries, err := s.service.GetAudit(taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type clarifyRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) clarifyTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req clarifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	task, err := s.service.Clarify(taskID, req.Answer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// IsServerClosed reports whether err only signals a normal shutdown.
func IsServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
