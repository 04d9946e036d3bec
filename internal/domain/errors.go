package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnknownModel    = errors.New("unknown model")
	ErrInvalidParams   = errors.New("invalid parameters")
	ErrProviderFailure = errors.New("provider failure")
	ErrLedgerOffline   = errors.New("ledger unavailable")
	ErrEngineStopped   = errors.New("engine stopped")
)

// ErrorKind classifies every rejection and terminal failure.
type ErrorKind string

const (
	KindBlockedAccount     ErrorKind = "blocked-account"
	KindDuplicate          ErrorKind = "duplicate-submission"
	KindConcurrencyLimit   ErrorKind = "concurrency-limit-exceeded"
	KindInsufficientFunds  ErrorKind = "insufficient-funds"
	KindAdminLimitExceeded ErrorKind = "admin-limit-exceeded"
	KindInvalidParameters  ErrorKind = "invalid-parameters"
	KindUnknownModel       ErrorKind = "unknown-model"
	KindRateLimited        ErrorKind = "provider-rate-limited"
	KindServerError        ErrorKind = "provider-server-error"
	KindValidation         ErrorKind = "provider-validation-error"
	KindAuth               ErrorKind = "provider-auth-error"
	KindNetwork            ErrorKind = "network-error"
	KindUnknown            ErrorKind = "provider-unknown-error"
)

// Transient reports whether retrying later may succeed.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindRateLimited, KindServerError, KindNetwork:
		return true
	}
	return false
}

// ClassifyStatus maps an HTTP status code to a provider error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusPaymentRequired:
		// Kie answers 402 when the account is out of credits.
		return KindAuth
	case status >= 500 && status <= 599:
		return KindServerError
	case status <= 0:
		return KindNetwork
	default:
		return KindUnknown
	}
}

// ProviderError describes a failure reported by (or while talking to) the
// generation provider.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
	Err        error
}

// NewProviderError builds an error classified from an HTTP status.
func NewProviderError(status int, code, message string, cause error) *ProviderError {
	return &ProviderError{
		Kind:       ClassifyStatus(status),
		StatusCode: status,
		Code:       code,
		Message:    message,
		Err:        cause,
	}
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider: %s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("provider: %s: %s", e.Kind, msg)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Err != nil {
		return e.Err
	}
	return ErrProviderFailure
}

// AsProviderError extracts a ProviderError, wrapping foreign errors as
// network failures.
func AsProviderError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Kind: KindNetwork, Message: "transport failure", Err: err}
}

// Rejection is returned synchronously by admission. It never creates a job.
type Rejection struct {
	Kind          ErrorKind
	Message       string
	ExistingJobID string
	Need          int64
	Have          int64
	Detail        string
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("rejected: %s: %s", r.Kind, r.Detail)
	}
	return fmt.Sprintf("rejected: %s", r.Kind)
}

// IsRejection reports whether err is an admission rejection and returns it.
func IsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
