// Package auth carries the caller identity established by bearer tokens.
// Tokens are issued to services and operators, never to community users.
package auth

import "context"

const (
	RoleService = "service"
	RoleAdmin   = "admin"
)

type contextKey struct{}

// AuthContext identifies the caller of an API request. Subject is the token
// subject (a service name or an operator handle), not a community user.
type AuthContext struct {
	Subject string
	Role    string
	TokenID string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// Subject returns the caller's subject, or "system" when the context carries
// no caller (background jobs, the operator CLI).
func Subject(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok || ac.Subject == "" {
		return "system"
	}
	return ac.Subject
}

func IsAdmin(ctx context.Context) bool {
	ac, _ := FromContext(ctx)
	return ac.Role == RoleAdmin
}

// ValidRole reports whether role can be carried by a token.
func ValidRole(role string) bool {
	return role == RoleService || role == RoleAdmin
}
