package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleHint is AI-originated like RoleAssistant but tracked on its own
	// channel so hints can be deduplicated and styled separately.
	RoleHint Role = "hint"
)

// ParseRole converts a wire value into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAssistant, RoleHint:
		return r, nil
	default:
		return "", fmt.Errorf("unknown message role %q", s)
	}
}

// Label returns the speaker label used when rendering transcripts.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "Student"
	case RoleAssistant:
		return "Tutor"
	case RoleHint:
		return "Hint"
	default:
		panic(fmt.Sprintf("domain: unhandled role %q", string(r)))
	}
}

// Message is one immutable entry in a session's dialogue.
type Message struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage creates a message with a fresh time-ordered ID.
func NewMessage(role Role, content string, seq int, now time.Time) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Seq:       seq,
		Role:      role,
		Content:   content,
		CreatedAt: now.UTC(),
	}
}
