package middleware

import (
	"context"
	"net/http"

	"golang.org/x/text/language"

	"genbot/internal/domain"
)

type localeContextKey struct{}

var LocaleKey = localeContextKey{}

// I18N resolves the response locale from X-Locale, then Accept-Language,
// matched against the locales user messages are translated into.
func I18N(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := detectLocale(r)
		w.Header().Set("Content-Language", tag.String())
		ctx := context.WithValue(r.Context(), LocaleKey, tag)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func detectLocale(r *http.Request) language.Tag {
	if v := r.Header.Get("X-Locale"); v != "" {
		return domain.MatchLocale(v)
	}
	return domain.MatchLocale(r.Header.Get("Accept-Language"))
}

// LocaleFromContext returns the request locale, English when unset.
func LocaleFromContext(ctx context.Context) language.Tag {
	if v, ok := ctx.Value(LocaleKey).(language.Tag); ok {
		return v
	}
	return language.English
}
