package handlers

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
)

// CORS wraps next so that browsers served from one of the allowed origins may call the API with
// credentials. An entry may hold one "*" wildcard, as in "https://*.example.com"; a bare "*" allows any
// origin. Preflight requests are answered directly.
func CORS(allowedOrigins []string, next http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Session-ID"},
		AllowCredentials: true,
	}

	switch {
	case slices.Contains(allowedOrigins, "*"):
		// A literal "*" is rejected by browsers on credentialed requests, so the origin is echoed instead.
		opts.AllowOriginFunc = func(string) bool { return true }
	case len(allowedOrigins) == 0:
		opts.AllowOriginFunc = func(string) bool { return false }
	}

	return cors.New(opts).Handler(next)
}
