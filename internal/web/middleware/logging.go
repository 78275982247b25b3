package middleware

import (
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/logger"
)

// RequestLogger stores a request-scoped logger carrying the request id in the
// context and logs every completed request. It must run after
// chi's RequestID middleware.
func RequestLogger(base *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := chiMiddleware.GetReqID(r.Context())
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			log := base.WithFields(logger.Fields{
				logger.FieldRequestID: reqID,
				"method":              r.Method,
				"path":                r.URL.Path,
			})
			ctx := log.WithContext(r.Context())

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			entry := log.WithFields(logger.Fields{
				"status":              ww.Status(),
				"bytes":               ww.BytesWritten(),
				logger.FieldDurationMs: time.Since(start).Milliseconds(),
				"remote_addr":         r.RemoteAddr,
			})
			switch {
			case ww.Status() >= http.StatusInternalServerError:
				entry.Error("request completed")
			case ww.Status() >= http.StatusBadRequest:
				entry.Warn("request completed")
			default:
				entry.Info("request completed")
			}
		})
	}
}

// RequestID returns the id assigned to the request, for handlers that pass
// it on to background work.
func RequestID(r *http.Request) string {
	return chiMiddleware.GetReqID(r.Context())
}
