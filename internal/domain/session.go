package domain

import (
	"time"
)

// Session is the persisted document for one tutoring engagement.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Problem      string    `json:"problem"`
	Topic        string    `json:"topic"`
	Messages     []Message `json:"messages"`
	Progress     string    `json:"progress,omitempty"`
	KeyLearnings []string  `json:"keyLearnings"`
	Summary      string    `json:"summary"`
	Completed    bool      `json:"completed"`
	Timestamp    time.Time `json:"timestamp"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Hints returns the content of every hint message in dialogue order.
func (s *Session) Hints() []string {
	var hints []string
	for _, m := range s.Messages {
		if m.Role == RoleHint {
			hints = append(hints, m.Content)
		}
	}
	return hints
}

// HasMessage reports whether a message with the given ID is already stored.
func (s *Session) HasMessage(id string) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}
