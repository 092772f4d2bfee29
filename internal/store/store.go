// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/companion/internal/domain"
)

// ErrNotFound is returned when a session does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting users and their conversation sessions.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// GetSession retrieves one session owned by userID.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error)

	// GetActiveSession retrieves the user's active session. Returns nil, nil if none.
	GetActiveSession(ctx context.Context, userID string) (*domain.Session, error)

	// ListSessions returns every session of a user, oldest first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// CreateSession inserts a session and, if activate is set, makes it the
	// user's active session in the same transaction.
	CreateSession(ctx context.Context, session *domain.Session, activate bool) error

	// UpdateSession persists history and affinity of an existing session.
	UpdateSession(ctx context.Context, session *domain.Session) error

	// SetActiveSession points the user's active session at sessionID in a single write.
	SetActiveSession(ctx context.Context, userID, sessionID string) error

	// ClearActiveSession leaves the user without an active session.
	ClearActiveSession(ctx context.Context, userID string) error

	// DeleteSession removes a session permanently, clearing the active
	// pointer if it referenced that session.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// CandidateStore holds the single uncommitted persona slot of each user.
type CandidateStore interface {
	// PutCandidate stores c, replacing any previous candidate of the same user.
	PutCandidate(ctx context.Context, c *domain.Candidate) error

	// GetCandidate returns the user's candidate. Returns nil, nil if absent or expired.
	GetCandidate(ctx context.Context, userID string) (*domain.Candidate, error)

	// DeleteCandidate discards the user's candidate.
	DeleteCandidate(ctx context.Context, userID string) error
}
