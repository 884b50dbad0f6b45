package http

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"conductor/internal/shared/logging"
)

const maxDirectiveBytes = 4 << 20

// APIHandler serves the JSON endpoints.
type APIHandler struct {
	deps   RouterDeps
	logger logging.Logger
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	var degraded map[string]string
	if h.deps.Degraded != nil {
		degraded = h.deps.Degraded()
		if len(degraded) > 0 {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "degraded": degraded})
}

// HandleSubmitDirective accepts a JSON or YAML directive body. With
// ?wait=<duration> the response carries the finished run when it completes
// in time.
func (h *APIHandler) HandleSubmitDirective(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDirectiveBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body", Details: err.Error()})
		return
	}
	rec, err := h.deps.Runs.Submit(body, "http")
	if err != nil {
		writeError(w, err)
		return
	}

	wait := r.URL.Query().Get("wait")
	if wait == "" {
		writeJSON(w, http.StatusAccepted, rec)
		return
	}
	timeout, err := time.ParseDuration(wait)
	if err != nil {
		if secs, convErr := strconv.Atoi(wait); convErr == nil {
			timeout = time.Duration(secs) * time.Second
		} else {
			timeout = 0
		}
	}
	if timeout <= 0 {
		writeJSON(w, http.StatusAccepted, rec)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	done, err := h.deps.Runs.Wait(ctx, rec.ID)
	if err != nil {
		writeJSON(w, http.StatusAccepted, rec)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

func (h *APIHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": h.deps.Runs.List()})
}

func (h *APIHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Runs.Get(r.PathValue("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *APIHandler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := h.deps.Runs.Cancel(runID); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("cancel requested for run %s", runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID, "status": "cancelling"})
}

func (h *APIHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": h.deps.Ledger.Snapshot()})
}

func (h *APIHandler) HandleArms(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bandit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"arms": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"epsilon": h.deps.Bandit.Epsilon(),
		"arms":    h.deps.Bandit.Arms(r.URL.Query().Get("role")),
	})
}
