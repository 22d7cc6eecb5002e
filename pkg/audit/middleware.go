package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Middleware records an audit event for every mutating API request.
// The event is written after the handler completes; a failed write is
// logged but never fails the request.
func Middleware(store *Store, cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !isMutating(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(capture, r)

			c := classify(r.Method, r.URL.Path)
			ev := &Event{
				ID:         uuid.New().String(),
				RequestID:  middleware.GetReqID(r.Context()),
				Method:     r.Method,
				Path:       r.URL.Path,
				Resource:   c.Resource,
				ResourceID: c.ResourceID,
				Action:     c.Action,
				Outcome:    outcomeFromStatus(capture.statusCode),
				StatusCode: capture.statusCode,
				RemoteAddr: r.RemoteAddr,
				DurationMS: time.Since(startTime).Milliseconds(),
				CreatedAt:  startTime,
			}

			if err := store.Append(ev); err != nil {
				logger.Error("failed to write audit event",
					"error", err, "request_id", ev.RequestID)
			}
		})
	}
}
