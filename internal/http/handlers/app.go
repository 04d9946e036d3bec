package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"genbot/internal/domain"
	"genbot/internal/engine"
	"genbot/internal/infra"
	"genbot/internal/ledger"
	"genbot/internal/middleware"
)

const maxBodyBytes = 1 << 20

type App struct {
	Engine  *engine.Engine
	Ledger  *ledger.Ledger
	Catalog domain.ModelCatalog
	History domain.HistoryStore
	Logger  *infra.Logger
}

func NewApp(eng *engine.Engine, led *ledger.Ledger, cat domain.ModelCatalog, hist domain.HistoryStore, logger *infra.Logger) *App {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &App{Engine: eng, Ledger: led, Catalog: cat, History: hist, Logger: logger}
}

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	ExistingJobID string `json:"existing_job_id,omitempty"`
	Need          *int64 `json:"need,omitempty"`
	Have          *int64 `json:"have,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: code, Message: message})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// authorizeUser lets callers read their own resources and operators read
// anyone's.
func (a *App) authorizeUser(w http.ResponseWriter, r *http.Request, userID string) bool {
	if middleware.IsAdmin(r.Context()) || (userID != "" && a.currentUserID(r) == userID) {
		return true
	}
	a.error(w, http.StatusForbidden, "forbidden", "cannot access another user's resources")
	return false
}

// rejectionStatus maps admission rejection kinds onto HTTP statuses.
func rejectionStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindBlockedAccount:
		return http.StatusForbidden
	case domain.KindDuplicate:
		return http.StatusConflict
	case domain.KindConcurrencyLimit:
		return http.StatusTooManyRequests
	case domain.KindInsufficientFunds, domain.KindAdminLimitExceeded:
		return http.StatusPaymentRequired
	case domain.KindInvalidParameters:
		return http.StatusUnprocessableEntity
	case domain.KindUnknownModel:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func providerStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindRateLimited:
		return http.StatusServiceUnavailable
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNetwork:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (a *App) reject(w http.ResponseWriter, r *http.Request, rej *domain.Rejection) {
	body := errorResponse{
		Error:         string(rej.Kind),
		Message:       domain.RejectionMessage(middleware.LocaleFromContext(r.Context()), rej),
		ExistingJobID: rej.ExistingJobID,
	}
	if rej.Kind == domain.KindInsufficientFunds || rej.Kind == domain.KindAdminLimitExceeded {
		need, have := rej.Need, rej.Have
		body.Need, body.Have = &need, &have
	}
	a.json(w, rejectionStatus(rej.Kind), body)
}

// fail renders infrastructure and provider errors without leaking their text.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	tag := middleware.LocaleFromContext(r.Context())
	var pe *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrEngineStopped):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "the service is shutting down")
	case errors.Is(err, domain.ErrLedgerOffline):
		a.error(w, http.StatusServiceUnavailable, "ledger-unavailable", "balances are temporarily unavailable")
	case errors.As(err, &pe):
		if pe.Kind == domain.KindRateLimited {
			w.Header().Set("Retry-After", "30")
		}
		a.error(w, providerStatus(pe.Kind), string(pe.Kind), domain.UserMessage(tag, pe.Kind, domain.MessageArgs{}))
	default:
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
