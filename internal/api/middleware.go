package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agritrace/agritrace/internal/auth"
	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/store"
)

type contextKey string

const (
	claimsKey contextKey = "claims"
	gateKey   contextKey = "gate"
)

// AuthMiddleware validates the bearer token, rejects revoked tokens, and
// resolves the caller into a gate.Context for the store layer. The
// stakeholder record is re-read on every request so deactivation and
// role changes take effect immediately.
func AuthMiddleware(secret string, db *sql.DB, g gate.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				jsonError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			tokenStr := strings.TrimPrefix(header, "Bearer ")
			claims, err := auth.ValidateToken(secret, tokenStr)
			if err != nil {
				jsonError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			revoked, err := store.IsTokenRevoked(r.Context(), db, claims.ID)
			if err != nil {
				jsonError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if revoked {
				jsonError(w, http.StatusUnauthorized, "token revoked")
				return
			}

			gctx, err := gate.Resolve(r.Context(), g, claims.StakeholderID, claims.Username)
			if err != nil {
				jsonError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = context.WithValue(ctx, gateKey, gctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware rejecting callers who do not hold the
// role. Admins pass every check.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gctx, ok := GetGate(r.Context())
			if !ok {
				jsonError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !gctx.HasRole(role) {
				jsonError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims retrieves the JWT claims from the context.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// GetGate retrieves the resolved authorization context.
func GetGate(ctx context.Context) (gate.Context, bool) {
	gctx, ok := ctx.Value(gateKey).(gate.Context)
	return gctx, ok
}

// mustGate is the handler-side accessor; routes behind AuthMiddleware
// always have a gate context.
func mustGate(w http.ResponseWriter, r *http.Request) (gate.Context, bool) {
	gctx, ok := GetGate(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
	}
	return gctx, ok
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs HTTP requests with method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}
