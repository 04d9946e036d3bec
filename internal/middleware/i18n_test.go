package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/text/language"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  language.Tag
	}{
		{
			name: "x-locale overrides",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "id")
				r.Header.Set("Accept-Language", "en-US")
			},
			want: language.Indonesian,
		},
		{
			name: "accept-language used",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-US,en;q=0.9")
			},
			want: language.English,
		},
		{
			name: "accept-language id preference",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "id-ID,en;q=0.8")
			},
			want: language.Indonesian,
		},
		{
			name: "unsupported falls back to en",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "ja-JP")
			},
			want: language.English,
		},
		{
			name: "default to en",
			want: language.English,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.setup != nil {
				tc.setup(req)
			}
			if got := detectLocale(req); got != tc.want {
				t.Fatalf("detectLocale() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestI18NStoresLocale(t *testing.T) {
	var got language.Tag
	h := I18N(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Locale", "id")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got != language.Indonesian {
		t.Fatalf("locale = %v, want id", got)
	}
	if rr.Header().Get("Content-Language") != "id" {
		t.Fatalf("Content-Language = %q", rr.Header().Get("Content-Language"))
	}
}

func TestLocaleFromContext(t *testing.T) {
	ctx := context.Background()
	if got := LocaleFromContext(ctx); got != language.English {
		t.Fatalf("LocaleFromContext() default = %v, want en", got)
	}
	ctx = context.WithValue(ctx, LocaleKey, language.Indonesian)
	if got := LocaleFromContext(ctx); got != language.Indonesian {
		t.Fatalf("LocaleFromContext() with value = %v, want id", got)
	}
}
