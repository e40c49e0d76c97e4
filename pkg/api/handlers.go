package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/testplatform/runtrackr/pkg/artifacts"
	"github.com/testplatform/runtrackr/pkg/diff"
	"github.com/testplatform/runtrackr/pkg/lifecycle"
	"github.com/testplatform/runtrackr/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// urlID parses a uint URL parameter.
func urlID(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)

	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}

	return uint(id), nil
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Run management ---

type createRunRequest struct {
	Platform string `json:"platform"`
	Kind     string `json:"kind"`
	Branch   string `json:"branch"`
	Commit   string `json:"commit"`
	PRNumber int    `json:"pr_number"`
}

func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Platform == "" || req.Branch == "" || req.Commit == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"platform, branch and commit are required"})

		return
	}

	if req.Kind != store.KindCommit && req.Kind != store.KindPullRequest {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"kind must be commit or pull_request"})

		return
	}

	run := &store.Run{
		Platform: req.Platform,
		Kind:     req.Kind,
		Branch:   req.Branch,
		Commit:   req.Commit,
		PRNumber: req.PRNumber,
	}

	if err := s.store.CreateRun(r.Context(), run); err != nil {
		s.log.WithError(err).Error("Failed to create run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to create run"})

		return
	}

	writeJSON(w, http.StatusCreated, run)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list runs"})

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to delete run"})

		return
	}

	entry := s.log.WithField("run_id", id)
	if user := userFromContext(r.Context()); user != nil {
		entry = entry.WithField("user", user.Username)
	}

	entry.Info("Run deleted")

	w.WriteHeader(http.StatusNoContent)
}

// --- Worker reporting ---

type appendEventRequest struct {
	Stage     string     `json:"stage"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (s *server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	var req appendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	stage, err := lifecycle.Parse(req.Stage)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	ts := time.Time{}
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	if err := s.store.AppendEvent(
		r.Context(), id, stage, req.Message, ts,
	); err != nil {
		s.log.WithError(err).Error("Failed to append event")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to append event"})

		return
	}

	w.WriteHeader(http.StatusCreated)
}

type createCaseResultRequest struct {
	CaseID           uint `json:"case_id"`
	RuntimeMS        int  `json:"runtime_ms"`
	ExitCode         int  `json:"exit_code"`
	ExpectedExitCode int  `json:"expected_exit_code"`
}

func (s *server) handleCreateCaseResult(
	w http.ResponseWriter, r *http.Request,
) {
	runID, err := urlID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	caseID, err := urlID(r, "caseID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var req createCaseResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	result := &store.CaseResult{
		RunID:            runID,
		CaseID:           caseID,
		RuntimeMS:        req.RuntimeMS,
		ExitCode:         req.ExitCode,
		ExpectedExitCode: req.ExpectedExitCode,
	}

	if err := s.store.CreateCaseResult(r.Context(), result); err != nil {
		s.log.WithError(err).Error("Failed to create case result")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to create case result"})

		return
	}

	writeJSON(w, http.StatusCreated, result)
}

type createComparisonRequest struct {
	OutputID     uint   `json:"output_id"`
	ExpectedFile string `json:"expected_file"`
	ActualFile   string `json:"actual_file,omitempty"`
}

func (s *server) handleCreateComparison(
	w http.ResponseWriter, r *http.Request,
) {
	runID, err := urlID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	caseID, err := urlID(r, "caseID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var req createComparisonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.ExpectedFile == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"expected_file is required"})

		return
	}

	cmp := &store.CaseOutputComparison{
		RunID:        runID,
		CaseID:       caseID,
		OutputID:     req.OutputID,
		ExpectedFile: req.ExpectedFile,
		ActualFile:   req.ActualFile,
	}

	if err := s.store.CreateOutputComparison(r.Context(), cmp); err != nil {
		s.log.WithError(err).Error("Failed to create output comparison")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to create output comparison"})

		return
	}

	writeJSON(w, http.StatusCreated, cmp)
}

// --- Derived reports ---

type progressResponse struct {
	RunID    uint                     `json:"run_id"`
	Finished bool                     `json:"finished"`
	Failed   bool                     `json:"failed"`
	Progress lifecycle.ProgressReport `json:"progress"`
}

func (s *server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	events, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("Failed to list events")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to load events"})

		return
	}

	writeJSON(w, http.StatusOK, progressResponse{
		RunID:    id,
		Finished: lifecycle.IsFinished(events),
		Failed:   lifecycle.HasFailed(events),
		Progress: lifecycle.DeriveProgress(events),
	})
}

func (s *server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	outcome, err := s.aggregator.Outcome(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("Failed to assemble run outcome")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to assemble results"})

		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// handleOutputDiff renders the HTML diff for one mismatched output,
// either inline for embedding or as a standalone downloadable document.
func (s *server) handleOutputDiff(w http.ResponseWriter, r *http.Request) {
	runID, err := urlID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	caseID, err := urlID(r, "caseID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	outputID, err := urlID(r, "outputID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	mode, err := diff.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if s.reader == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{"no artifacts backend configured"})

		return
	}

	cmp, err := s.store.GetOutputComparison(
		r.Context(), runID, caseID, outputID,
	)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"output comparison not found"})

		return
	}

	html, err := s.aggregator.Diff(r.Context(), cmp, mode)
	if err != nil {
		switch {
		case errors.Is(err, artifacts.ErrNotFound):
			writeJSON(w, http.StatusNotFound,
				errorResponse{"cannot generate diff: artifact missing"})
		case errors.Is(err, artifacts.ErrDecoding):
			s.log.WithError(err).Error("Artifact decoding failed")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"cannot generate diff: artifact unreadable"})
		default:
			writeJSON(w, http.StatusConflict, errorResponse{err.Error()})
		}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if mode == diff.ModeDownload {
		filename := fmt.Sprintf(
			"diff_run%d_case%d_output%d.html", runID, caseID, outputID,
		)
		w.Header().Set("Content-Disposition",
			`attachment; filename="`+filename+`"`)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}
