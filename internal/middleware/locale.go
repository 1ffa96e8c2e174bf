package middleware

import (
	"context"
	"net/http"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

// supported lists the locales slot status strings are translated into.
var supported = []language.Tag{
	language.English,
	language.Spanish,
	language.Japanese,
}

var matcher = language.NewMatcher(supported)

// Locale resolves the request locale from the X-Locale header or the
// Accept-Language negotiation and stores the matched base language in the
// request context.
func Locale(defaultLocale string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := resolveLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), localeContextKey{}, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LocaleFromContext returns the matched locale, defaulting to "en".
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeContextKey{}).(string); ok && v != "" {
		return v
	}
	return "en"
}

func resolveLocale(r *http.Request, fallback string) string {
	header := r.Header.Get("X-Locale")
	if header == "" {
		header = r.Header.Get("Accept-Language")
	}
	if header == "" {
		header = fallback
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return normalize(fallback)
	}
	_, idx, _ := matcher.Match(tags...)
	base, _ := supported[idx].Base()
	return base.String()
}

func normalize(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return "en"
	}
	_, idx, _ := matcher.Match(tag)
	base, _ := supported[idx].Base()
	return base.String()
}
