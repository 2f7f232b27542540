package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/taskengine/internal/api"
	apiMiddleware "github.com/phrazzld/taskengine/internal/api/middleware"
	"github.com/phrazzld/taskengine/internal/api/shared"
)

// setupRouter builds the HTTP routing tree.
func (app *application) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.manager, app.registry, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Get("/tasks/{id}/result", taskHandler.GetTaskResult)
		r.Delete("/tasks/{id}", taskHandler.CancelTask)
		r.Get("/stats", taskHandler.GetStats)
		r.Get("/workloads", taskHandler.ListWorkloads)
	})

	r.Get("/healthz", app.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(app.promRegistry, promhttp.HandlerOpts{}))

	return r
}

// handleHealthz reports liveness. It answers 200 as long as the process
// can serve requests; task manager saturation is visible in /metrics,
// not here.
func (app *application) handleHealthz(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
