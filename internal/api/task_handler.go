package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/taskengine/engine"
	"github.com/phrazzld/taskengine/internal/api/shared"
	"github.com/phrazzld/taskengine/internal/platform/logger"
	"github.com/phrazzld/taskengine/internal/redact"
	"github.com/phrazzld/taskengine/internal/workload"
)

const (
	// defaultResultWait bounds GET result when the client names no budget.
	defaultResultWait = 30 * time.Second

	// maxResultWait caps client-requested result budgets so a handler
	// never outlives the server's write timeout.
	maxResultWait = time.Minute
)

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	manager  *engine.Manager
	registry *workload.Registry
	logger   *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(
	manager *engine.Manager,
	registry *workload.Registry,
	logger *slog.Logger,
) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		manager:  manager,
		registry: registry,
		logger:   logger.With(slog.String("component", "task_handler")),
	}
}

// SubmitTask handles POST /tasks requests. It builds the named workload
// and admits it, answering 202 with the task id.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format", slog.String("error", redact.Error(err)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	task, err := h.registry.Build(req.Kind, req.Params)
	if err != nil {
		// Builder messages name only the offending parameter, so they
		// are safe to return as-is.
		msg := err.Error()
		if errors.Is(err, workload.ErrUnknownWorkload) {
			msg = GetSafeErrorMessage(err)
		}
		log.Warn("workload rejected",
			slog.String("kind", req.Kind),
			slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, msg)
		return
	}

	opts := make([]engine.SubmitOption, 0, 4)
	if req.Name != "" {
		opts = append(opts, engine.WithName(req.Name))
	}
	if req.TimeoutSeconds > 0 {
		opts = append(opts, engine.WithTimeout(time.Duration(req.TimeoutSeconds*float64(time.Second))))
	}
	if req.MaxRetries != nil {
		opts = append(opts, engine.WithMaxRetries(*req.MaxRetries))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, engine.WithMetadata(req.Metadata))
	}

	id, err := h.manager.Submit(task, opts...)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("task accepted",
		slog.String("task_id", id),
		slog.String("kind", req.Kind))
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{TaskID: id})
}

// GetTask handles GET /tasks/{id} requests with a record snapshot.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	rec, err := h.manager.GetStatus(id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(rec))
}

// GetTaskResult handles GET /tasks/{id}/result requests. It blocks until
// the task settles or the wait budget (?timeout_seconds=, capped) runs
// out, then answers with the result or the terminal failure.
func (h *TaskHandler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	budget := defaultResultWait
	if raw := r.URL.Query().Get("timeout_seconds"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			log.Warn("invalid timeout_seconds parameter", slog.String("value", raw))
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid timeout_seconds parameter")
			return
		}
		if secs > 0 {
			budget = min(time.Duration(secs*float64(time.Second)), maxResultWait)
		}
	}

	value, err := h.manager.Wait(r.Context(), id, budget)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrTaskNotFound),
			errors.Is(err, engine.ErrWaitTimeout),
			errors.Is(err, engine.ErrTaskCancelled),
			errors.Is(err, engine.ErrTaskTimedOut):
			shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)

		case errors.Is(err, context.Canceled):
			// The client went away mid-wait; the response is moot.
			shared.RespondWithError(w, r, http.StatusRequestTimeout, "Request cancelled")

		default:
			// The unit of work's own failure.
			shared.RespondWithErrorAndLog(w, r, http.StatusUnprocessableEntity, "Task failed", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ResultResponse{
		TaskID: id,
		Status: string(engine.StatusCompleted),
		Result: value,
	})
}

// CancelTask handles DELETE /tasks/{id} requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	if _, err := h.manager.GetStatus(id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	cancelled := h.manager.Cancel(id)
	log.Debug("task cancellation requested",
		slog.String("task_id", id),
		slog.Bool("cancelled", cancelled))
	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{TaskID: id, Cancelled: cancelled})
}

// GetStats handles GET /stats requests.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, statsToResponse(h.manager.GetStats()))
}

// ListWorkloads handles GET /workloads requests.
func (h *TaskHandler) ListWorkloads(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, WorkloadsResponse{Workloads: h.registry.Kinds()})
}
