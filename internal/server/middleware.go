package server

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// LoggingMiddleware logs one line per request with method, path, status and
// duration.
func LoggingMiddleware(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// HeaderUserResolver resolves the caller from a trusted request header.
func HeaderUserResolver(header string) UserResolver {
	return func(r *http.Request) (string, error) {
		if userID := r.Header.Get(header); userID != "" {
			return userID, nil
		}
		return "", ErrNoUser
	}
}
