package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"privacyguard/pkg/logger"
)

// ScanIDHeader carries the identifier of a rescan started by the request
const ScanIDHeader = "X-Scan-ID"

// Logger returns a middleware that logs requests. Routes addressing one app
// are tagged with app_id; requests that start a rescan with scan_id.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				event := log.WithRequestID(middleware.GetReqID(r.Context())).Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start))

				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						event = event.Str("route", pattern)
					}
					if appID := rctx.URLParam("id"); appID != "" {
						event = event.Str("app_id", appID)
					}
				}
				if scanID := ww.Header().Get(ScanIDHeader); scanID != "" {
					event = event.Str("scan_id", scanID)
				}

				event.Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
