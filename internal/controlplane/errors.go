package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/uta/internal/declare"
	"github.com/fentz26/uta/internal/models"
)

// Sentinel errors for control plane operations.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotWaiting     = errors.New("task is not waiting for clarification")
)

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotWaiting), errors.Is(err, declare.ErrNoPendingQuestion),
		errors.Is(err, models.ErrTaskTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
