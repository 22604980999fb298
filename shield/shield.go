// Package shield holds the HTTP middleware every pinpoint endpoint runs
// behind: security headers, a body limit and request ids.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(shield.DefaultHeaders(), 4<<20, logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// Stack returns the middleware in the order it must run: request id first
// so that later failures are logged with it.
func Stack(headers HeaderConfig, maxBody int64, logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestID(logger),
		SecurityHeaders(headers),
		MaxBody(maxBody),
	}
}
