package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chainindexor/blockindexer/internal/logger"
)

// Middleware wraps an http.Handler to produce another.
type Middleware func(http.Handler) http.Handler

// responseWriter captures the status code written by the inner handler so
// LoggingMiddleware can report it after the fact.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// LoggingMiddleware logs method, path, status, and duration for every
// request at Info level, matching the teacher's request-logging convention.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			log.Infow("api request", "method", r.Method, "path", r.URL.Path,
				"status", rw.statusCode, "duration", time.Since(start))
		})
	}
}

// RecoveryMiddleware recovers panics from the inner handler, logs them, and
// responds with a plain 500 instead of crashing the server.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorw("recovered from panic", "panic", fmt.Sprintf("%v", rec), "path", r.URL.Path)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows the configured origins, responding to preflight
// OPTIONS requests directly and never invoking next for them.
func CORSMiddleware(allowedOrigins []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed, match := matchOrigin(allowedOrigins, origin)
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", match)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchOrigin reports whether origin is allowed and the value to echo back
// in Access-Control-Allow-Origin. A "*" entry allows any origin, echoing the
// request's Origin header when present and "*" otherwise.
func matchOrigin(allowedOrigins []string, origin string) (bool, string) {
	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			if origin == "" {
				return true, "*"
			}
			return true, origin
		}
		if strings.EqualFold(allowed, origin) && origin != "" {
			return true, origin
		}
	}
	return false, ""
}
