package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// defaultRunLimit caps /api/v1/runs when no limit is given.
const defaultRunLimit = 20

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":     boolToStatus(details.Healthy),
		"ready":      details.Ready,
		"batch":      details.Batch,
		"components": details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleBatch returns the live progress of the current batch.
func (s *Server) handleBatch(w http.ResponseWriter, _ *http.Request) {
	snap := s.progress.Snapshot()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch": snap,
		"done":  snap.Done(),
	})
}

// handleListRuns returns the most recent batch runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.ledger.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := make([]map[string]interface{}, len(runs))
	for i, run := range runs {
		response[i] = formatRun(run)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  response,
		"count": len(runs),
	})
}

// handleGetRun returns the task outcomes of one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	records, err := s.ledger.ListOutcomes(r.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		s.logger.Error("listing outcomes failed", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list outcomes")
		return
	}

	outcomes := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		outcomes[i] = formatOutcome(rec)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":   runID,
		"outcomes": outcomes,
		"count":    len(records),
	})
}

func formatRun(run output.RunSummary) map[string]interface{} {
	m := map[string]interface{}{
		"id":         run.ID,
		"total":      run.Total,
		"converted":  run.Converted,
		"skipped":    run.Skipped,
		"failed":     run.Failed,
		"started_at": run.StartedAt,
		"finished":   !run.FinishedAt.IsZero(),
	}
	if !run.FinishedAt.IsZero() {
		m["finished_at"] = run.FinishedAt
		m["duration"] = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
	}
	return m
}

func formatOutcome(rec output.OutcomeRecord) map[string]interface{} {
	m := map[string]interface{}{
		"product":     rec.Product,
		"status":      rec.Status,
		"attempts":    rec.Attempts,
		"credential":  rec.Credential,
		"output_path": rec.OutputPath,
		"started_at":  rec.StartedAt,
		"finished_at": rec.FinishedAt,
	}
	if rec.Kind != domain.FailureNone {
		m["kind"] = rec.Kind
	}
	if rec.Error != "" {
		m["error"] = rec.Error
	}
	if rec.Warning != "" {
		m["warning"] = rec.Warning
	}
	return m
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
