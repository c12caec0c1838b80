package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/flowforge/sdlc-orchestrator/internal/logger"
)

// RequestLogger returns a middleware that logs each admin API request
// via zerolog, mirroring the teacher's structured-field logging style
// (internal/logger.WithComponent) rather than chi's default text logger.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.WithComponent("api").Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("admin api request")
		})
	}
}
