package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"genbot/internal/domain"
)

func TestRejectionStatus(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindBlockedAccount, http.StatusForbidden},
		{domain.KindDuplicate, http.StatusConflict},
		{domain.KindConcurrencyLimit, http.StatusTooManyRequests},
		{domain.KindInsufficientFunds, http.StatusPaymentRequired},
		{domain.KindAdminLimitExceeded, http.StatusPaymentRequired},
		{domain.KindInvalidParameters, http.StatusUnprocessableEntity},
		{domain.KindUnknownModel, http.StatusNotFound},
	}
	for _, tc := range tests {
		if got := rejectionStatus(tc.kind); got != tc.want {
			t.Fatalf("rejectionStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestProviderStatus(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindRateLimited, http.StatusServiceUnavailable},
		{domain.KindValidation, http.StatusUnprocessableEntity},
		{domain.KindNetwork, http.StatusGatewayTimeout},
		{domain.KindServerError, http.StatusBadGateway},
		{domain.KindAuth, http.StatusBadGateway},
	}
	for _, tc := range tests {
		if got := providerStatus(tc.kind); got != tc.want {
			t.Fatalf("providerStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestProviderCallbackRequiresTaskID(t *testing.T) {
	app := NewApp(nil, nil, nil, nil, nil)

	for _, body := range []string{`{`, `{"data":{}}`, `{"taskId":"  "}`} {
		req := httptest.NewRequest(http.MethodPost, "/v1/callbacks/provider", strings.NewReader(body))
		rr := httptest.NewRecorder()
		app.ProviderCallback(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status %d, want 400", body, rr.Code)
		}
		var payload errorResponse
		if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.Error != "bad-request" {
			t.Fatalf("unexpected error code %q", payload.Error)
		}
	}
}

func TestFailHidesInternalErrors(t *testing.T) {
	app := NewApp(nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	app.fail(rr, req, assertError("pq: connection refused to 10.0.0.5"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "10.0.0.5") {
		t.Fatalf("internal error text leaked: %s", rr.Body.String())
	}
}

type assertError string

func (e assertError) Error() string { return string(e) }
