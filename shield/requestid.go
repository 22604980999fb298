package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/pinpoint/idgen"
	"github.com/hazyhaar/pinpoint/kit"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

type loggerKey struct{}

// RequestID keeps the caller's X-Request-ID or generates one, stores it with
// kit.WithRequestID and attaches a request logger to the context.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = idgen.New()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := kit.WithRequestID(r.Context(), id)
			l := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx = context.WithValue(ctx, loggerKey{}, l)
			l.Debug("shield: request")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Logger returns the request logger, or slog.Default outside a request.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
