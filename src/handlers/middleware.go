package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/zwehtet-dev/exchange-bot/src/logger"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// AuthMiddleware guards operator routes with a bearer token issued by the
// login endpoint.
func (h *AdminHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			logger.L.Debug("AuthMiddleware: Authorization header missing", "path", r.URL.Path)
			sendJSONError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" {
			sendJSONError(w, "Malformed token", http.StatusUnauthorized)
			return
		}

		operator, err := h.auth.ValidateToken(tokenString)
		if err != nil {
			logger.L.Warn("AuthMiddleware: Token validation failed", "path", r.URL.Path, "error", err)
			sendJSONError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), operatorContextKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OperatorFromContext returns the authenticated operator name.
func OperatorFromContext(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(operatorContextKey).(string)
	return operator, ok
}
