package models

import (
	"context"

	"github.com/google/uuid"
)

// contextKey - приватный тип для ключей контекста, чтобы избежать коллизий.
type contextKey string

const (
	// UserContextKey holds the authenticated user's uuid.UUID.
	UserContextKey contextKey = "userID"
	// ClaimsContextKey holds the verified *Claims.
	ClaimsContextKey contextKey = "claims"
	// TokenContextKey holds the raw bearer token for privileged downstream calls.
	TokenContextKey contextKey = "bearerToken"
)

// GetUserIDFromContext returns the authenticated user id, if any.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserContextKey).(uuid.UUID)
	return userID, ok && userID != uuid.Nil
}

// GetClaimsFromContext returns the verified claims, if any.
func GetClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok
}

// GetTokenFromContext returns the raw bearer token, if any.
func GetTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenContextKey).(string)
	return token, ok && token != ""
}
