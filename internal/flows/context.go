package flows

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/teecode611-cmyk/studio/internal/domain"
)

// LearningContextSessions is how many prior sessions feed the learning context.
const LearningContextSessions = 5

// TopicForImage is the topic recorded when a session starts from an image alone.
const TopicForImage = "the uploaded image"

// ProblemForImage stands in for the problem statement of image-only sessions.
const ProblemForImage = "Please analyze the attached image."

// ProblemStatement is the immutable problem text carried through a session.
func ProblemStatement(problem string) string {
	if p := strings.TrimSpace(problem); p != "" {
		return p
	}
	return ProblemForImage
}

// OpeningMessage is the student's first message as stored in the dialogue.
func OpeningMessage(problem string, hasImage bool) string {
	problem = strings.TrimSpace(problem)
	switch {
	case hasImage && problem != "":
		return "I've uploaded an image and here's my question: " + problem
	case hasImage:
		return "I have uploaded an image of my problem."
	default:
		return problem
	}
}

// Topic names a session for history listings.
func Topic(problem string) string {
	if p := strings.TrimSpace(problem); p != "" {
		return p
	}
	return TopicForImage
}

// TurnsFromMessages converts stored messages into flow input turns.
func TurnsFromMessages(msgs []domain.Message) []ChatTurn {
	return lo.Map(msgs, func(m domain.Message, _ int) ChatTurn {
		return ChatTurn{Role: m.Role, Content: m.Content}
	})
}

// RenderHistory renders turns as role-labeled lines in order.
func RenderHistory(turns []ChatTurn) string {
	lines := lo.Map(turns, func(t ChatTurn, _ int) string {
		return t.Role.Label() + ": " + t.Content
	})
	return strings.Join(lines, "\n")
}

// Transcript renders a session's dialogue for summarization using
// Student:/Tutor: labels. Hint messages appear as Hint: lines only when
// includeHints is set.
func Transcript(msgs []domain.Message, includeHints bool) string {
	kept := lo.Filter(msgs, func(m domain.Message, _ int) bool {
		return includeHints || m.Role != domain.RoleHint
	})
	return RenderHistory(TurnsFromMessages(kept))
}

// LearningContext digests up to limit sessions, in the order given, into one
// block of text. Callers pass sessions most recent first.
func LearningContext(sessions []*domain.Session, limit int) string {
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	blocks := lo.Map(sessions, func(s *domain.Session, _ int) string {
		return fmt.Sprintf("Topic: %s\nSummary: %s\nKeyLearnings: %s",
			s.Topic, s.Summary, strings.Join(s.KeyLearnings, ", "))
	})
	return strings.Join(blocks, "\n\n---\n\n")
}
