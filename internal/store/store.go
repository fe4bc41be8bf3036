// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/agentdeck/agentdeck/internal/domain"
)

// Repository defines the interface for persisting panel session state.
type Repository interface {
	// GetSessionPrefs retrieves the persisted configuration for a panel
	// session. Returns (nil, nil) when no row exists.
	GetSessionPrefs(ctx context.Context, sessionID string) (*domain.SessionPrefs, error)

	// UpsertSessionPrefs creates or updates the configuration for a panel
	// session, replacing the whole row.
	UpsertSessionPrefs(ctx context.Context, prefs *domain.SessionPrefs) error

	// SetAutoExecute flips only the auto-execute flag for a session.
	SetAutoExecute(ctx context.Context, sessionID string, enabled bool) error

	// DeleteSessionPrefs removes the configuration for a panel session.
	DeleteSessionPrefs(ctx context.Context, sessionID string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
