package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"genbot/internal/domain"
	"genbot/internal/middleware"
)

// historyScanLimit bounds how far back a job lookup searches finished jobs.
const historyScanLimit = 500

type createGenerationRequest struct {
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	ModelID   string         `json:"model_id"`
	Params    map[string]any `json:"params"`
}

type pricingResponse struct {
	Price        int64 `json:"price"`
	Free         bool  `json:"free"`
	AdminLimited bool  `json:"admin_limited,omitempty"`
	AdminExempt  bool  `json:"admin_exempt,omitempty"`
}

type createGenerationResponse struct {
	JobID   string          `json:"job_id"`
	State   domain.JobState `json:"state"`
	Pricing pricingResponse `json:"pricing"`
}

type jobError struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type jobResponse struct {
	JobID       string          `json:"job_id"`
	UserID      string          `json:"user_id"`
	SessionID   string          `json:"session_id,omitempty"`
	ModelID     string          `json:"model_id"`
	State       domain.JobState `json:"state,omitempty"`
	Outcome     domain.Outcome  `json:"outcome,omitempty"`
	Price       int64           `json:"price"`
	Charged     *int64          `json:"charged,omitempty"`
	ResultURLs  []string        `json:"result_urls,omitempty"`
	Error       *jobError       `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func activeJobResponse(job *domain.Job) jobResponse {
	out := jobResponse{
		JobID:      job.ID,
		UserID:     job.UserID,
		SessionID:  job.SessionID,
		ModelID:    job.ModelID,
		State:      job.State,
		Price:      job.Price,
		ResultURLs: job.ResultURLs,
		CreatedAt:  job.CreatedAt,
	}
	if job.Err != nil {
		out.Error = &jobError{Kind: job.Err.Kind}
	}
	return out
}

func historyJobResponse(rec domain.JobHistoryRecord) jobResponse {
	var state domain.JobState
	switch rec.Outcome {
	case domain.OutcomeSuccess:
		state = domain.JobStateSuccess
	case domain.OutcomeFailed:
		state = domain.JobStateFailed
	}
	charged := rec.Charged
	completed := rec.CompletedAt
	out := jobResponse{
		JobID:       rec.JobID,
		UserID:      rec.UserID,
		ModelID:     rec.ModelID,
		State:       state,
		Outcome:     rec.Outcome,
		Price:       rec.Price,
		Charged:     &charged,
		ResultURLs:  rec.ResultURLs,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: &completed,
	}
	if rec.ErrorKind != "" || rec.ErrorMessage != "" {
		out.Error = &jobError{Kind: rec.ErrorKind, Message: rec.ErrorMessage}
	}
	return out
}

// targetUser resolves whose job a request acts on. Operators may name any
// user through user_id; everyone else acts as themselves.
func (a *App) targetUser(r *http.Request, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	caller := a.currentUserID(r)
	if requested == "" || requested == caller {
		return caller, caller != ""
	}
	return requested, middleware.IsAdmin(r.Context())
}

// CreateGeneration admits a generation request and starts tracking the
// provider job. Accepted requests answer 202; rejections carry their kind
// and a localized message.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req createGenerationRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad-request", err.Error())
		return
	}
	userID, ok := a.targetUser(r, req.UserID)
	if !ok {
		a.error(w, http.StatusForbidden, "forbidden", "cannot submit on behalf of another user")
		return
	}

	res, err := a.Engine.Submit(r.Context(), domain.GenerationRequest{
		UserID:    userID,
		SessionID: strings.TrimSpace(req.SessionID),
		ModelID:   strings.TrimSpace(req.ModelID),
		Params:    req.Params,
	}, nil)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if res.Rejection != nil {
		a.reject(w, r, res.Rejection)
		return
	}

	w.Header().Set("Location", "/v1/generations/"+res.JobID)
	a.json(w, http.StatusAccepted, createGenerationResponse{
		JobID: res.JobID,
		State: res.State,
		Pricing: pricingResponse{
			Price:        res.Pricing.Price,
			Free:         res.Pricing.Free,
			AdminLimited: res.Pricing.AdminLimited,
			AdminExempt:  res.Pricing.AdminExempt,
		},
	})
}

// GetGeneration returns an in-flight job, or its history record once it
// has finished.
func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	userID, ok := a.targetUser(r, r.URL.Query().Get("user_id"))
	if !ok {
		a.error(w, http.StatusForbidden, "forbidden", "cannot access another user's jobs")
		return
	}

	if job, ok := a.Engine.Job(userID, jobID); ok {
		a.json(w, http.StatusOK, activeJobResponse(job))
		return
	}

	if a.History != nil {
		records, err := a.History.ListByUser(r.Context(), userID, historyScanLimit)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		for _, rec := range records {
			if rec.JobID == jobID {
				a.json(w, http.StatusOK, historyJobResponse(rec))
				return
			}
		}
	}
	a.error(w, http.StatusNotFound, "not-found", "job not found")
}

// CancelGeneration stops tracking an in-flight job and refunds any hold.
func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	userID, ok := a.targetUser(r, r.URL.Query().Get("user_id"))
	if !ok {
		a.error(w, http.StatusForbidden, "forbidden", "cannot cancel another user's jobs")
		return
	}
	if !a.Engine.Cancel(r.Context(), userID, jobID) {
		a.error(w, http.StatusNotFound, "not-found", "job is not active")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"job_id": jobID, "outcome": domain.OutcomeCancelled})
}
