package auth

import (
	"context"
	"strings"
)

type ctxKey string

const (
	userIDKey    ctxKey = "auth_user_id"
	roleKey      ctxKey = "auth_role"
	sessionIDKey ctxKey = "auth_session_id"
)

// ContextWithUser stores the authenticated identity in the context.
func ContextWithUser(ctx context.Context, userID, role, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, strings.TrimSpace(userID))
	if role = strings.TrimSpace(strings.ToLower(role)); role != "" {
		ctx = context.WithValue(ctx, roleKey, role)
	}
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	}
	return ctx
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RoleFromContext returns the role stored in context, lower-cased.
func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SessionIDFromContext returns the session id bound to the bearer token.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
