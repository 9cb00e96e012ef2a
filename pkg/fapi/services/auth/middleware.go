package auth

import (
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"

	"github.com/flockml/flock/pkg/fauth"
)

type contextKey struct{}

var principalKey contextKey

// Middleware attaches the verified token claims to the request context.
// Requests without a usable token pass through unauthenticated; handlers
// that need a principal reject via Principal.
func (s *AuthService) Middleware() func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		r, _ := humachi.Unwrap(ctx)

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				if claims, err := s.ValidateToken(ctx.Context(), parts[1]); err == nil {
					ctx = huma.WithValue(ctx, principalKey, claims)
				} else {
					s.log.Warn("invalid token", "error", err)
				}
			}
		}

		next(ctx)
	}
}

// Principal returns the authenticated claims, or nil when the request
// carried no valid token.
func Principal(ctx context.Context) *fauth.Claims {
	claims, _ := ctx.Value(principalKey).(*fauth.Claims)
	return claims
}
