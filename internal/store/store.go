// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/teecode611-cmyk/studio/internal/domain"
)

var (
	// ErrNotFound is returned by writes addressed to a missing document.
	ErrNotFound = errors.New("session document not found")
	// ErrCompleted is returned by writes to a document already marked completed.
	ErrCompleted = errors.New("session document is completed")
)

// SessionQuery narrows ListSessions. Results are always ordered by creation
// time, most recent first.
type SessionQuery struct {
	Limit         int
	CompletedOnly bool
	ExcludeID     string
}

// Repository defines the interface for persisting learners and their session documents.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// UpdatePlan changes the user's subscription plan.
	UpdatePlan(ctx context.Context, userID string, plan domain.Plan) error

	// CreateSession stores a new session document. The caller assigns the ID.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session document. Returns nil, nil when absent.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// AppendMessages appends messages to the document in one atomic write.
	// Messages whose ID is already stored are skipped.
	AppendMessages(ctx context.Context, id string, msgs ...domain.Message) error

	// AppendTurn appends a chat exchange and, when progress is non-empty,
	// replaces the checklist in the same atomic write.
	AppendTurn(ctx context.Context, id string, progress string, msgs ...domain.Message) error

	// CompleteSession sets the summary and key learnings and marks the
	// document completed. It succeeds at most once per document.
	CompleteSession(ctx context.Context, id string, summary string, keyLearnings []string) error

	// ListSessions returns a user's documents, most recent first.
	ListSessions(ctx context.Context, userID string, q SessionQuery) ([]*domain.Session, error)

	// CountSessionsSince counts documents the user created at or after since.
	CountSessionsSince(ctx context.Context, userID string, since time.Time) (int, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// mergeMessages appends incoming to existing, skipping IDs already present.
func mergeMessages(existing, incoming []domain.Message) ([]domain.Message, bool) {
	seen := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
	}
	changed := false
	for _, m := range incoming {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		existing = append(existing, m)
		changed = true
	}
	return existing, changed
}

// nextProgress keeps the current checklist unless a replacement is given.
func nextProgress(current, incoming string) string {
	if incoming == "" {
		return current
	}
	return incoming
}
