package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIdentity(t *testing.T) {
	tests := []struct {
		name      string
		header    map[string]string
		wantUser  string
		wantAdmin bool
	}{
		{
			name:     "user header",
			header:   map[string]string{"X-User-ID": " u1 "},
			wantUser: "u1",
		},
		{
			name:      "admin token",
			header:    map[string]string{"Authorization": "Bearer s3cret"},
			wantAdmin: true,
		},
		{
			name:   "wrong token",
			header: map[string]string{"Authorization": "Bearer nope"},
		},
		{
			name:   "not bearer",
			header: map[string]string{"Authorization": "Basic s3cret"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var user string
			var admin bool
			h := Identity("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user = UserIDFromContext(r.Context())
				admin = IsAdmin(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if user != tc.wantUser || admin != tc.wantAdmin {
				t.Fatalf("got user=%q admin=%v, want user=%q admin=%v", user, admin, tc.wantUser, tc.wantAdmin)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	h := Identity("s3cret")(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("without token: got %d, want 403", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("with token: got %d, want 204", rr.Code)
	}
}

func TestIdentityWithoutAdminToken(t *testing.T) {
	var admin bool
	h := Identity("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin = IsAdmin(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if admin {
		t.Fatalf("empty admin token must never grant access")
	}
}
