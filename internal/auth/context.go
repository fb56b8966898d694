package auth

import "context"

// Anonymous is the identity recorded when no user is logged in.
const Anonymous = "anonymous"

type contextKey struct{}

// ContextWithClaims attaches validated claims to ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the claims attached by ContextWithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// Identity returns the logged-in user's id, or Anonymous.
func Identity(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok && claims.UserID != "" {
		return claims.UserID
	}
	return Anonymous
}
