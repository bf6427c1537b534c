package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/teecode611-cmyk/studio/internal/domain"
)

// MemoryStore is a process-local Repository. Documents are deep-copied on
// every read and write so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	sessions map[string]*domain.Session
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		sessions: make(map[string]*domain.Session),
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	out := *s
	out.Messages = slices.Clone(s.Messages)
	out.KeyLearnings = slices.Clone(s.KeyLearnings)
	return &out
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// GetUser retrieves a user by their user ID.
func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// UpsertUser creates or updates a user record. An existing plan is kept.
func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *user
	if existing, ok := m.users[user.UserID]; ok {
		u.Plan = existing.Plan
		u.CreatedAt = existing.CreatedAt
	}
	if u.Plan == "" {
		u.Plan = domain.PlanFree
	}
	m.users[user.UserID] = u
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (m *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastSeenAt = lastSeen
		u.UpdatedAt = time.Now()
		m.users[userID] = u
	}
	return nil
}

// UpdatePlan changes the user's subscription plan.
func (m *MemoryStore) UpdatePlan(_ context.Context, userID string, plan domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.Plan = plan
	u.UpdatedAt = time.Now()
	m.users[userID] = u
	return nil
}

// CreateSession stores a new session document.
func (m *MemoryStore) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("insert session: duplicate id %s", session.ID)
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetSession retrieves a session document.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) mutate(id string, fn func(s *domain.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Completed {
		return fmt.Errorf("%w: %s", ErrCompleted, id)
	}
	fn(s)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendMessages appends messages to the document's message list.
func (m *MemoryStore) AppendMessages(_ context.Context, id string, msgs ...domain.Message) error {
	return m.mutate(id, func(s *domain.Session) {
		s.Messages, _ = mergeMessages(s.Messages, msgs)
	})
}

// AppendTurn appends messages and optionally replaces the progress checklist.
func (m *MemoryStore) AppendTurn(_ context.Context, id string, progress string, msgs ...domain.Message) error {
	return m.mutate(id, func(s *domain.Session) {
		s.Messages, _ = mergeMessages(s.Messages, msgs)
		s.Progress = nextProgress(s.Progress, progress)
	})
}

// CompleteSession sets the summary and marks the document completed.
func (m *MemoryStore) CompleteSession(_ context.Context, id string, summary string, keyLearnings []string) error {
	return m.mutate(id, func(s *domain.Session) {
		s.Summary = summary
		s.KeyLearnings = slices.Clone(keyLearnings)
		s.Completed = true
	})
}

// ListSessions returns a user's documents, most recent first.
func (m *MemoryStore) ListSessions(_ context.Context, userID string, q SessionQuery) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Session
	for _, s := range m.sessions {
		if s.UserID != userID || (q.CompletedOnly && !s.Completed) || s.ID == q.ExcludeID {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CountSessionsSince counts documents the user created at or after since.
func (m *MemoryStore) CountSessionsSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && !s.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}
