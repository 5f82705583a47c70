// Package server exposes the HTTP status API for running and finished tasks.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinkerloft/deskpilot/internal/knowledge"
	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/planstore"
	"github.com/tinkerloft/deskpilot/internal/skills"
)

// Server is the HTTP status API over the plan store, skill index and
// knowledge catalog.
type Server struct {
	router    chi.Router
	store     *planstore.Store
	skills    *skills.Index
	knowledge *knowledge.Catalog
	broker    *Broker
	registry  *prometheus.Registry
}

// New creates a Server. registry may be nil (disables /metrics).
func New(store *planstore.Store, idx *skills.Index, kn *knowledge.Catalog, broker *Broker, registry *prometheus.Registry) *Server {
	s := &Server{store: store, skills: idx, knowledge: kn, broker: broker, registry: registry}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/tasks", s.handleListTasks)
	r.Route("/api/v1/tasks/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetTask)
		r.Get("/versions", s.handleGetVersions)
		r.Get("/events", s.handleTaskEvents)
	})
	r.Get("/api/v1/skills", s.handleListSkills)
	r.Get("/api/v1/knowledge", s.handleListKnowledge)

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TaskSummary is the API representation of a task for list responses.
type TaskSummary struct {
	TaskID      string              `json:"task_id"`
	Task        string              `json:"task"`
	PlanVersion int                 `json:"plan_version"`
	Status      model.OverallStatus `json:"status"`
	CurrentStep int                 `json:"current_step"`
	TotalSteps  int                 `json:"total_steps"`
}

func summarize(rec planstore.Record) TaskSummary {
	return TaskSummary{
		TaskID:      planstore.TaskID(rec.Task),
		Task:        rec.Task,
		PlanVersion: rec.Plan.Version,
		Status:      rec.ExecutionState.OverallStatus,
		CurrentStep: rec.ExecutionState.CurrentStep,
		TotalSteps:  len(rec.Plan.Actions),
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tasks := make([]TaskSummary, 0, len(records))
	for _, rec := range records {
		tasks = append(tasks, summarize(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// findTask locates the latest record whose task id matches.
func (s *Server) findTask(id string) (planstore.Record, bool) {
	records, err := s.store.List()
	if err != nil {
		return planstore.Record{}, false
	}
	for _, rec := range records {
		if planstore.TaskID(rec.Task) == id {
			return rec, true
		}
	}
	return planstore.Record{}, false
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.findTask(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.findTask(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	versions, err := s.store.Versions(rec.Task)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "versions": versions})
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"skills": s.skills.Skills()})
}

func (s *Server) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.knowledge.Items()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
