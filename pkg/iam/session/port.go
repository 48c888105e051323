package session

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// Store defines the contract for session persistence. Two implementations
// exist: the direct Postgres store (authoritative) and a caching decorator
// composed over it at construction time. Callers are agnostic to caching.
type Store interface {
	// Create persists a new session.
	Create(ctx context.Context, s Session) error

	// Find resolves a session and its principal snapshot by token.
	// Expired sessions behave as not found.
	Find(ctx context.Context, token string) (*Resolved, error)

	// Touch persists a refreshed sliding deadline.
	Touch(ctx context.Context, s Session) error

	// Delete removes a single session.
	Delete(ctx context.Context, token string) error

	// DeleteByUser removes every session for the user and returns the
	// deleted tokens so caches can be invalidated per token.
	DeleteByUser(ctx context.Context, userID kernel.UserID) ([]string, error)

	// DeleteByUserExcept removes every session for the user except one.
	DeleteByUserExcept(ctx context.Context, userID kernel.UserID, keepToken string) ([]string, error)

	// DeleteExpired sweeps sessions past either deadline.
	DeleteExpired(ctx context.Context) (int64, error)
}
