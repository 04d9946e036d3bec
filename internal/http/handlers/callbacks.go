package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"genbot/internal/domain"
)

// providerCallback accepts both the flat and the data-wrapped task id
// layouts providers post.
type providerCallback struct {
	TaskID string `json:"taskId"`
	Data   struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// ProviderCallback triggers an immediate status check for the job named in
// the payload. The callback body is never trusted for the outcome itself.
func (a *App) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	var cb providerCallback
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cb); err != nil {
		a.error(w, http.StatusBadRequest, "bad-request", "invalid json body")
		return
	}
	jobID := strings.TrimSpace(cb.Data.TaskID)
	if jobID == "" {
		jobID = strings.TrimSpace(cb.TaskID)
	}
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad-request", "taskId is required")
		return
	}

	state, err := a.Engine.Refresh(r.Context(), jobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.json(w, http.StatusOK, map[string]any{"job_id": jobID, "status": "ignored"})
	case err != nil:
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("http: callback refresh failed")
		a.json(w, http.StatusAccepted, map[string]any{"job_id": jobID, "status": "deferred"})
	default:
		a.json(w, http.StatusOK, map[string]any{"job_id": jobID, "status": "refreshed", "state": state})
	}
}
