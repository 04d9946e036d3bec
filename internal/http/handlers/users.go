package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

type topUpRequest struct {
	Amount json.Number `json:"amount"`
}

func (a *App) ListActive(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if !a.authorizeUser(w, r, userID) {
		return
	}
	jobs := a.Engine.Active(userID)
	items := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, activeJobResponse(job))
	}
	a.json(w, http.StatusOK, map[string]any{
		"count": a.Engine.ActiveCount(userID),
		"items": items,
	})
}

func (a *App) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if !a.authorizeUser(w, r, userID) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items := []jobResponse{}
	if a.History != nil {
		records, err := a.History.ListByUser(r.Context(), userID, limit)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		for _, rec := range records {
			items = append(items, historyJobResponse(rec))
		}
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if !a.authorizeUser(w, r, userID) {
		return
	}
	bal, err := a.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, balanceResponse{UserID: userID, Balance: bal})
}

// TopUp credits a user's balance. The route is operator-only.
func (a *App) TopUp(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	var req topUpRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad-request", err.Error())
		return
	}
	amount, err := req.Amount.Int64()
	if err != nil || amount <= 0 {
		a.error(w, http.StatusUnprocessableEntity, "invalid-amount", "amount must be a positive integer")
		return
	}
	bal, err := a.Ledger.AddBalance(r.Context(), userID, amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().Str("user_id", userID).Int64("amount", amount).Int64("balance", bal).Msg("http: balance top-up")
	a.json(w, http.StatusOK, balanceResponse{UserID: userID, Balance: bal})
}
