package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// TokenValidator — проверка входящих токенов консоли
type TokenValidator interface {
	VerifyToken(tokenStr string) (*AdminClaims, error)
}

type ctxKey struct{}

// ClaimsFromContext достает проверенные claims, положенные middleware.
func ClaimsFromContext(ctx context.Context) (*AdminClaims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*AdminClaims)
	return c, ok
}

// NewMiddleware пропускает только запросы с валидным токеном и нужным скоупом.
func NewMiddleware(v TokenValidator, scope string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if scope != "" && !claims.HasScope(scope) {
				logger.Warn("insufficient scope",
					zap.String("subject", claims.Subject),
					zap.String("required", scope))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), ctxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
