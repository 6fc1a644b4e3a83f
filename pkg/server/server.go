// Package server exposes workflow_dispatch over HTTP: a dispatch endpoint
// that starts runs and read-only endpoints over the run records.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/runlet/runlet/pkg/record"
	"github.com/runlet/runlet/pkg/run"
	"github.com/runlet/runlet/pkg/workflow"
)

// Server dispatches runs of one workflow file and serves their records.
type Server struct {
	workflowFile string
	workingDir   string
	recordDir    string
	logger       *log.Logger

	// mu serializes dispatched runs: exactly one step sequence executes at
	// a time, same as a CLI run.
	mu sync.Mutex
}

// New creates a server for the given workflow file. Records go to recordDir,
// defaulting to the workflow directory's .runlet/runs.
func New(workflowFile, recordDir string, logger *log.Logger) *Server {
	workingDir := filepath.Dir(workflowFile)
	if recordDir == "" {
		recordDir = run.DefaultRecordDir(workingDir)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		workflowFile: workflowFile,
		workingDir:   workingDir,
		recordDir:    recordDir,
		logger:       logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/api/dispatch", s.handleDispatch)
	r.Get("/api/runs", s.handleListRuns)
	r.Get("/api/runs/{runID}", s.handleGetRun)
	r.Get("/api/runs/{runID}/logs/{step}", s.handleGetLog)

	return r
}

type dispatchRequest struct {
	Inputs map[string]string `json:"inputs,omitempty"`
}

type dispatchResponse struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	State    string `json:"state"`
}

// handleDispatch starts a run of the configured workflow. The workflow file
// is re-read on every dispatch so edits take effect without a restart.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	wf, err := workflow.Load(s.workflowFile)
	if err != nil {
		http.Error(w, "cannot load workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := wf.Validate(); err != nil {
		http.Error(w, "invalid workflow: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if !wf.Allows(workflow.TriggerDispatch) {
		http.Error(w, "workflow does not allow workflow_dispatch", http.StatusForbidden)
		return
	}
	if _, err := wf.ResolveInputs(req.Inputs); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	runID := uuid.NewString()
	go s.execute(wf, runID, req.Inputs)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(dispatchResponse{
		RunID:    runID,
		Workflow: wf.Name,
		State:    string(run.StatePending),
	})
}

func (s *Server) execute(wf *workflow.Workflow, runID string, inputs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := run.Execute(context.Background(), run.Options{
		Workflow:     wf,
		WorkflowFile: s.workflowFile,
		Inputs:       inputs,
		WorkingDir:   s.workingDir,
		RecordDir:    s.recordDir,
		Trigger:      workflow.TriggerDispatch,
		RunID:        runID,
		Logger:       s.logger.Printf,
	})
	var stepErr *run.StepError
	if err != nil && !errors.As(err, &stepErr) {
		s.logger.Printf("run %s: %v", runID, err)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := record.List(s.recordDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []record.RunRecord{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rec, err := record.Load(s.recordDir, runID)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	step := chi.URLParam(r, "step")
	content, err := record.ReadLog(s.recordDir, runID, step)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "log not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(content))
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
