package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bridge/internal/account"
	"bridge/internal/metrics"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type contextKey string

const accountContextKey contextKey = "account"

// RequireAPIKey resolves the X-API-Key header into an account and injects
// it into the request context.
func (h Handler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing X-API-Key header")
			return
		}

		acct, err := h.accounts.ResolveAPIKey(r.Context(), apiKey)
		if errors.Is(err, account.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to resolve API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountContextKey, acct)))
	})
}

func accountFromContext(ctx context.Context) (account.Account, bool) {
	value := ctx.Value(accountContextKey)
	if value == nil {
		return account.Account{}, false
	}
	acct, ok := value.(account.Account)
	return acct, ok
}

// RequestLogger logs one line per completed request.
func RequestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Metrics records Prometheus counters and latency per request.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := normalizePath(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses identifiers so metric cardinality stays bounded.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/v1/requests/") {
		if strings.HasSuffix(path, "/events") {
			return "/v1/requests/:id/events"
		}
		return "/v1/requests/:id"
	}
	if strings.HasPrefix(path, "/v1/chats/") {
		return "/v1/chats/:id"
	}
	return path
}
