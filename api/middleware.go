package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/finance-engine/auth"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/metrics"
)

type contextKey string

// userIDKey holds the authenticated ledger.UserID.
const userIDKey contextKey = "user_id"

// UserID extracts the authenticated user. Returns 0 outside RequireAuth.
func UserID(ctx context.Context) ledger.UserID {
	user, _ := ctx.Value(userIDKey).(ledger.UserID)
	return user
}

// WithUserID returns ctx carrying user.
func WithUserID(ctx context.Context, user ledger.UserID) context.Context {
	return context.WithValue(ctx, userIDKey, user)
}

// RequireAuth rejects requests without a valid "Authorization: Bearer" token
// and stores the token's user in the request context.
func RequireAuth(jwt *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "Authentication required", auth.ErrMissingToken)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				writeError(w, http.StatusUnauthorized, "Authentication required", auth.ErrInvalidToken)
				return
			}

			user, err := jwt.UserFromToken(strings.TrimSpace(token))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Authentication required", err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), user)))
		})
	}
}

// requestLogger logs one line per request with its duration.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			}

			switch {
			case status >= 500:
				logger.Error("request failed", attrs...)
			case status >= 400:
				logger.Warn("request rejected", attrs...)
			default:
				logger.Info("request", attrs...)
			}
		})
	}
}

// instrument records request latency by route pattern, so ids in the
// path do not explode label cardinality.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTP(r.Method, route, status, time.Since(start))
		})
	}
}
