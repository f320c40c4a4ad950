package i18n

import "net/http"

// Middleware attaches a localizer to every request. The lang query parameter
// wins over Accept-Language; fallback is used when neither matches a loaded
// locale.
func Middleware(fallback string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := Match(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
			loc := NewLocalizer(lang, fallback)
			w.Header().Set("Content-Language", lang)
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
		})
	}
}
