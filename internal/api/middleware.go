package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/eteran/granary/internal/store"
)

const RequestIDHeader = "X-Request-Id"

// responseWriter records the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

type logEntry struct {
	RequestID  string
	IP         string
	AccessKey  string
	Method     string
	URL        string
	Proto      string
	DurationMS float64
	StatusCode int
}

func (e logEntry) User() slog.Attr {
	return slog.Group("user", "ip", e.IP, "accessKey", e.AccessKey)
}

func (e logEntry) Request() slog.Attr {
	return slog.Group("request",
		"id", e.RequestID,
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// LogRequest logs every request with its outcome. Each request carries an
// id, taken from the X-Request-Id header or generated, which is echoed back.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		entry := logEntry{
			RequestID: id,
			IP:        r.RemoteAddr,
			Method:    r.Method,
			URL:       r.URL.String(),
			Proto:     r.Proto,
		}
		if user, _, ok := r.BasicAuth(); ok {
			entry.AccessKey = user
		}

		writer := responseWriter{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start).Nanoseconds()

		entry.DurationMS = float64(elapsed) / float64(time.Millisecond)
		entry.StatusCode = writer.status

		switch {
		case writer.status >= 500:
			slog.Error("Request", entry.User(), entry.Request())
		case writer.status >= 400:
			slog.Warn("Request", entry.User(), entry.Request())
		default:
			slog.Info("Request", entry.User(), entry.Request())
		}
	})
}

// Recoverer turns a panicking handler into a 500 response.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// the client connection is gone, let net/http handle it
					panic(rvr)
				}

				slog.Error("Internal Error in HTTP handler", "error", rvr, "url", r.URL.String())
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type keyContextKey struct{}

// RequireKey takes the caller's credential pair from HTTP Basic auth and
// stores it in the request context. The pair is not checked here; the store
// rejects it on first use if it is wrong.
func RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, secret, ok := r.BasicAuth()
		key := store.Key{AccessKey: access, SecretKey: secret}
		if !ok || !key.Valid() {
			w.Header().Set("WWW-Authenticate", `Basic realm="granary"`)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "credential pair required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyContextKey{}, key)))
	})
}

// KeyFromContext returns the credential pair stored by RequireKey.
func KeyFromContext(ctx context.Context) (store.Key, bool) {
	key, ok := ctx.Value(keyContextKey{}).(store.Key)
	return key, ok
}
