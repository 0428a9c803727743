package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/repetition-orchestrator/internal/db"
	"github.com/jonathan/repetition-orchestrator/internal/runner"
	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
	"github.com/jonathan/repetition-orchestrator/internal/worker"
)

// eventInterval is how often SSE progress events are emitted.
const eventInterval = 500 * time.Millisecond

// historyLimit caps how many persisted runs a listing returns.
const historyLimit = 50

// createRunRequest is the payload for POST /runs.
type createRunRequest struct {
	List           string   `json:"list" validate:"required,min=1"`
	Template       string   `json:"template" validate:"required,min=1"`
	ResponseFields []string `json:"response_fields" validate:"required,min=1,dive,required"`
	ArtifactName   string   `json:"artifact_name,omitempty"`
}

// Validate validates the createRunRequest using the validator.
func (r *createRunRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// handleCreateRun resolves the named task list and creates a run awaiting
// confirmation. Nothing executes until POST /runs/{id}/confirm.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	instruction := worker.Instruction{
		Template:       req.Template,
		ResponseFields: req.ResponseFields,
	}
	if err := instruction.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.store.Get(req.List)
	if err != nil {
		switch {
		case tasklist.IsNotFound(err):
			s.errorResponse(w, http.StatusNotFound, "task list not found: "+req.List)
		case tasklist.IsEmpty(err):
			s.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	artifactName := req.ArtifactName
	if artifactName == "" {
		artifactName = list.Name + "_results"
	}

	run, err := runner.NewRun(runner.RunRequest{
		List:         list,
		Instruction:  instruction,
		ArtifactName: artifactName,
	})
	if err != nil {
		s.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := run.Submit(); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.tracker.Register(run)

	gate := make(chan runner.Decision, 1)
	s.gateMu.Lock()
	s.gates[run.ID()] = gate
	s.gateMu.Unlock()

	go s.superviseRun(run, gate)

	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"run":     run.Snapshot(),
		"summary": runner.Summarize(list),
	})
}

// superviseRun waits for the gate decision and drives the run to a
// terminal state.
func (s *Server) superviseRun(run *runner.Run, gate chan runner.Decision) {
	defer s.removeGate(run.ID())

	select {
	case decision := <-gate:
		// The gate is spent: later confirm/reject calls must conflict,
		// not queue behind a decision nobody will read.
		s.removeGate(run.ID())
		if decision.Kind != runner.DecisionConfirmed {
			if err := run.Reject(); err != nil {
				log.Printf("Run %s: reject failed: %v", run.ID(), err)
			}
			return
		}
		if err := run.Confirm(); err != nil {
			log.Printf("Run %s: confirm failed: %v", run.ID(), err)
			return
		}
		if err := s.engine.Execute(s.runCtx, run); err != nil {
			log.Printf("Run %s finished with error: %v", run.ID(), err)
		}
	case <-s.runCtx.Done():
		_ = run.Reject()
	}
}

func (s *Server) removeGate(id uuid.UUID) {
	s.gateMu.Lock()
	delete(s.gates, id)
	s.gateMu.Unlock()
}

// decide delivers a gate decision for the run, if it is still awaiting one.
func (s *Server) decide(w http.ResponseWriter, r *http.Request, kind runner.DecisionKind) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	if run.State() != runner.StateAwaitingConfirmation {
		s.errorResponse(w, http.StatusConflict, "run is no longer awaiting confirmation")
		return
	}

	s.gateMu.Lock()
	gate, exists := s.gates[run.ID()]
	s.gateMu.Unlock()
	if !exists {
		s.errorResponse(w, http.StatusConflict, "run is no longer awaiting confirmation")
		return
	}

	select {
	case gate <- runner.Decision{Kind: kind}:
		s.jsonResponse(w, http.StatusOK, run.Snapshot())
	default:
		s.errorResponse(w, http.StatusConflict, "run already has a pending decision")
	}
}

func (s *Server) handleConfirmRun(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, runner.DecisionConfirmed)
}

func (s *Server) handleRejectRun(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, runner.DecisionRejected)
}

// handleCancelRun requests cooperative cancellation. A run still at the
// gate is rejected outright; a running one stops before its next item.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}

	run.Cancel()
	s.gateMu.Lock()
	gate, exists := s.gates[run.ID()]
	s.gateMu.Unlock()
	if exists {
		select {
		case gate <- runner.Decision{Kind: runner.DecisionRejected}:
		default:
		}
	}

	s.jsonResponse(w, http.StatusOK, run.Snapshot())
}

// handleGetRun serves a live snapshot when the run is tracked in memory,
// falling back to the persisted record (with its outcomes) when only the
// database still remembers it.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid run id")
		return
	}

	if run, err := s.tracker.Get(id); err == nil {
		s.jsonResponse(w, http.StatusOK, run.Snapshot())
		return
	} else if !errors.Is(err, runner.ErrRunNotFound) {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.history != nil {
		record, err := s.history.GetRun(r.Context(), id)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		if record != nil {
			outcomes, err := s.history.ListOutcomes(r.Context(), id)
			if err != nil {
				log.Printf("Warning: failed to read outcomes for run %s: %v", id, err)
			}
			s.jsonResponse(w, http.StatusOK, map[string]any{
				"run":      record,
				"outcomes": outcomes,
			})
			return
		}
	}

	s.errorResponse(w, http.StatusNotFound, "run not found")
}

// handleListRuns returns the in-memory snapshots plus, when persistence
// is configured, the stored runs the tracker no longer holds.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"runs": s.tracker.Snapshots()}

	if s.history != nil {
		records, err := s.history.ListRuns(r.Context(), historyLimit)
		if err != nil {
			log.Printf("Warning: failed to read run history: %v", err)
		} else {
			archived := make([]db.RunRecord, 0, len(records))
			for _, record := range records {
				if _, err := s.tracker.Get(record.ID); err == nil {
					continue // live snapshot already covers it
				}
				archived = append(archived, record)
			}
			payload["history"] = archived
		}
	}

	s.jsonResponse(w, http.StatusOK, payload)
}

func (s *Server) handleListTaskLists(w http.ResponseWriter, _ *http.Request) {
	names, err := s.store.List()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"task_lists": names})
}

// handleRunEvents streams progress snapshots as SSE until the run settles.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(eventInterval)
	defer ticker.Stop()

	for {
		snap := run.Snapshot()
		if err := sse.WriteEvent("progress", snap); err != nil {
			return
		}
		if snap.State.Terminal() {
			sse.WriteComplete(snap)
			return
		}
		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}

// handleRunArtifact serves the finalized CSV artifact.
func (s *Server) handleRunArtifact(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}

	path := run.ArtifactPath()
	if path == "" {
		s.errorResponse(w, http.StatusNotFound, "artifact not available yet")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	http.ServeFile(w, r, path)
}

// runFromPath resolves the {id} path segment to a tracked run, writing
// the error response itself when that fails.
func (s *Server) runFromPath(w http.ResponseWriter, r *http.Request) (*runner.Run, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid run id")
		return nil, false
	}
	run, err := s.tracker.Get(id)
	if err != nil {
		if errors.Is(err, runner.ErrRunNotFound) {
			s.errorResponse(w, http.StatusNotFound, "run not found")
			return nil, false
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return run, true
}
