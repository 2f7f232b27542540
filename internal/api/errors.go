package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/taskengine/engine"
	"github.com/phrazzld/taskengine/internal/workload"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Unknown or already reclaimed task ids
	case errors.Is(err, engine.ErrTaskNotFound):
		return http.StatusNotFound

	// Admission pressure
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests

	// The wait budget ran out before the task settled
	case errors.Is(err, engine.ErrWaitTimeout):
		return http.StatusRequestTimeout

	// Terminal outcomes that preclude a result
	case errors.Is(err, engine.ErrTaskCancelled):
		return http.StatusConflict
	case errors.Is(err, engine.ErrTaskTimedOut):
		return http.StatusUnprocessableEntity

	// Bad submissions
	case errors.Is(err, engine.ErrNilTask),
		errors.Is(err, workload.ErrUnknownWorkload):
		return http.StatusBadRequest

	// Lifecycle: the manager is not accepting work
	case errors.Is(err, engine.ErrStopped),
		errors.Is(err, engine.ErrNotStarted):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for the
// error type.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, engine.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, engine.ErrQueueFull):
		return "Task queue is full"

	case errors.Is(err, engine.ErrWaitTimeout):
		return "Timed out waiting for the task to finish"

	case errors.Is(err, engine.ErrTaskCancelled):
		return "Task was cancelled"

	case errors.Is(err, engine.ErrTaskTimedOut):
		return "Task timed out"

	case errors.Is(err, workload.ErrUnknownWorkload):
		return "Unknown workload kind"

	case errors.Is(err, engine.ErrStopped),
		errors.Is(err, engine.ErrNotStarted):
		return "Task manager is not accepting work"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns a validator error into a user-friendly
// message naming only the offending field and rule.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), validationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

// validationTagMessage maps validation tags to user-friendly fragments.
func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte":
		return "too small"
	case "max", "lte":
		return "too large"
	case "gt":
		return "must be positive"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
