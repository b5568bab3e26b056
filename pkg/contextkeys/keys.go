// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the service must be defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import (
	"context"

	"github.com/google/uuid"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains the authenticated actor's user ID.
	// Set by: rbac.ActorMiddleware from the gateway-supplied identity header.
	// Used by: permission middleware, audit trail.
	ActorKey Key = "actor_id"

	// RequestIDKey contains the request ID string.
	// Set by: request logging middleware.
	// Used by: logger, audit trail.
	RequestIDKey Key = "request_id"
)

// WithActor adds the authenticated actor's user ID to the context
func WithActor(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ActorKey, userID)
}

// Actor retrieves the authenticated actor's user ID from the context.
// The second return is false when no actor is present (unauthenticated).
func Actor(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ActorKey).(uuid.UUID)
	return id, ok
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID from the context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
