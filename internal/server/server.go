// Package server exposes the evaluation pipeline over HTTP. Each run is an
// independent orchestrator held in an in-memory registry; nothing is
// persisted, and a restart discards all runs.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/aseas-labs/grader-cli/internal/model"
	"github.com/aseas-labs/grader-cli/internal/pipeline"
	"github.com/aseas-labs/grader-cli/pkg/anthropic"
)

// Server owns the run registry and the HTTP routes over it.
type Server struct {
	client anthropic.Client
	cfg    pipeline.Config

	mu   sync.RWMutex
	runs map[string]*pipeline.Orchestrator
}

// New creates a server with an empty run registry.
func New(client anthropic.Client, cfg pipeline.Config) *Server {
	return &Server{
		client: client,
		cfg:    cfg,
		runs:   make(map[string]*pipeline.Orchestrator),
	}
}

// Router builds the chi router with all run routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", s.createRun)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Delete("/", s.deleteRun)
			r.Post("/upload", s.uploadArtifact)
			r.Post("/extract", s.startExtraction)
			r.Put("/transcript", s.setTranscript)
			r.Post("/continue", s.continueToRubric)
			r.Put("/rubric", s.setRubric)
			r.Post("/evaluate", s.evaluate)
			r.Post("/back", s.back)
			r.Post("/reset", s.reset)
		})
	})

	return r
}

func (s *Server) createRun(w http.ResponseWriter, _ *http.Request) {
	run := pipeline.New(s.client, s.cfg)

	s.mu.Lock()
	s.runs[run.ID()] = run
	s.mu.Unlock()

	zap.L().Info("run created", zap.String("run_id", run.ID()))
	writeJSON(w, http.StatusCreated, run.Snapshot())
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

// deleteRun removes the run from the registry. The run's orchestrator is
// simply dropped; any in-flight gateway response lands on an object nothing
// references anymore.
func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	s.mu.Lock()
	_, ok := s.runs[id]
	if ok {
		delete(s.runs, id)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	zap.L().Info("run deleted", zap.String("run_id", id))
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"run_id": id,
	})
}

func (s *Server) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	var req struct {
		Data      string `json:"data"` // base64
		MediaType string `json:"media_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Data == "" {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "data is not valid base64")
		return
	}

	if err := run.UploadArtifact(data, req.MediaType); err != nil {
		writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) startExtraction(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	// The gateway call can take tens of seconds; run it detached of the
	// request lifetime and let the client poll the snapshot. The
	// orchestrator's sequence guard keeps a response for an abandoned
	// attempt from landing.
	go func() {
		if err := run.StartExtraction(context.Background()); err != nil {
			zap.L().Error("extraction failed",
				zap.String("run_id", run.ID()),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": run.ID(),
	})
}

func (s *Server) setTranscript(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	var req struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := run.SetTranscript(req.Transcript); err != nil {
		writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) continueToRubric(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	if err := run.ContinueToRubric(); err != nil {
		writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) setRubric(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	var rubric model.RubricConfig
	if err := json.NewDecoder(r.Body).Decode(&rubric); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := run.SetRubric(rubric); err != nil {
		writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	// Reject guard failures synchronously so the client gets a real status
	// code; only a run that actually entered scoring returns 202.
	snap := run.Snapshot()
	if snap.Stage != model.StageRubricSetup {
		writeGuardError(w, pipeline.ErrInvalidTransition)
		return
	}

	go func() {
		if err := run.Evaluate(context.Background()); err != nil {
			zap.L().Error("evaluation failed",
				zap.String("run_id", run.ID()),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": run.ID(),
	})
}

func (s *Server) back(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	var req struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := model.ParseStage(req.Stage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown stage")
		return
	}

	if err := run.Back(target); err != nil {
		writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	run.Reset()
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) lookup(r *http.Request) (*pipeline.Orchestrator, bool) {
	id := chi.URLParam(r, "runID")

	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	return run, ok
}

// writeGuardError maps pipeline guard errors onto HTTP status codes:
// transition violations are conflicts, input defects are bad requests.
func writeGuardError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, pipeline.ErrInvalidTransition) {
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
