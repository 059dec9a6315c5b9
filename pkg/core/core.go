package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// StoreKey is a custom context key type for storing the Store in context.
type StoreKey struct{}

// IdentityKey is a custom context key type for storing the host identity in context.
type IdentityKey struct{}

// Identity is the host-signed per-request identity: the tenant the request
// belongs to and the host account acting inside it.
type Identity struct {
	ClientKey    string
	AccountID    string
	Installation *Installation
}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	reqID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// LoggerFromCtx returns a slog.Logger with request_id field if present in context.
// If no request ID is found, it returns the default logger.
// This allows for structured logging with request context.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	if reqID != "" {
		return slog.Default().With("request_id", reqID)
	}
	return slog.Default()
}

// WithStore returns a new context with the provided Store set.
func WithStore(ctx context.Context, store Store) context.Context {
	return context.WithValue(ctx, StoreKey{}, store)
}

// StoreFromContext retrieves the Store from the context.
// Returns the Store interface if present, or an error if missing.
func StoreFromContext(ctx context.Context) (Store, error) {
	store, ok := ctx.Value(StoreKey{}).(Store)
	if !ok {
		return nil, fmt.Errorf("missing store")
	}
	return store, nil
}

// WithIdentity returns a new context carrying the authenticated host identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey{}, id)
}

// IdentityFromContext retrieves the host identity from the context.
// Returns an error if the request carries no authenticated identity.
func IdentityFromContext(ctx context.Context) (*Identity, error) {
	id, ok := ctx.Value(IdentityKey{}).(*Identity)
	if !ok || id == nil {
		return nil, fmt.Errorf("missing identity")
	}
	return id, nil
}
