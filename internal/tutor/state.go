// Package tutor implements the per-tab tutoring session state machine and
// the service that drives it through model calls and persistence.
package tutor

import (
	"errors"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/teecode611-cmyk/studio/internal/domain"
)

var (
	// ErrNoActiveSession is returned for operations that need an Active session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionActive is returned when a session is already open in this tab.
	ErrSessionActive = errors.New("a session is already active")
	// ErrSessionCompleted is returned for mutations of a completed session.
	ErrSessionCompleted = errors.New("session is completed")
	// ErrBusy is returned while another operation on the same session is outstanding.
	ErrBusy = errors.New("another operation is in progress for this session")
	// ErrQuotaExceeded is returned when the learner's daily session allowance is used up.
	ErrQuotaExceeded = errors.New("daily session limit reached")
	// ErrNotOwner is returned when resuming a document that belongs to someone else.
	ErrNotOwner = errors.New("session belongs to another learner")
)

// Phase is the state machine position.
type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseActive Phase = "active"
	// PhaseEnding covers the summarization call and, once Completed is set,
	// the recap shown until the learner acknowledges it.
	PhaseEnding Phase = "ending"
)

// State is the in-memory view of one tab's session. Values are treated as
// immutable: every transition returns a new State.
type State struct {
	Phase        Phase            `json:"phase"`
	DocID        string           `json:"id,omitempty"`
	Problem      string           `json:"problem,omitempty"`
	Topic        string           `json:"topic,omitempty"`
	History      []domain.Message `json:"messages"`
	Progress     string           `json:"progress,omitempty"`
	Hints        []string         `json:"hints"`
	Summary      string           `json:"summary,omitempty"`
	KeyLearnings []string         `json:"keyLearnings,omitempty"`
	Completed    bool             `json:"completed"`
	// PendingID is the optimistic user message awaiting the model's reply.
	PendingID string    `json:"pendingId,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
}

// Idle is the empty state.
func Idle() State {
	return State{Phase: PhaseIdle, History: []domain.Message{}, Hints: []string{}}
}

// NextSeq is the sequence number of the next message.
func (s State) NextSeq() int {
	if len(s.History) == 0 {
		return 0
	}
	return s.History[len(s.History)-1].Seq + 1
}

// Confirmed returns the history without any pending optimistic message.
func (s State) Confirmed() []domain.Message {
	if s.PendingID == "" {
		return s.History
	}
	return lo.Reject(s.History, func(m domain.Message, _ int) bool { return m.ID == s.PendingID })
}

// LastStudentAnswer returns the learner's most recent message after the opening.
func (s State) LastStudentAnswer() string {
	for i := len(s.History) - 1; i > 0; i-- {
		if s.History[i].Role == domain.RoleUser {
			return s.History[i].Content
		}
	}
	return ""
}

func (s State) mutable() error {
	switch {
	case s.Phase == PhaseIdle:
		return ErrNoActiveSession
	case s.Completed:
		return ErrSessionCompleted
	case s.Phase != PhaseActive || s.PendingID != "":
		return ErrBusy
	}
	return nil
}

// BeginTurn optimistically appends the learner's message.
func BeginTurn(s State, text string, now time.Time) (State, domain.Message, error) {
	if err := s.mutable(); err != nil {
		return s, domain.Message{}, err
	}
	msg := domain.NewMessage(domain.RoleUser, text, s.NextSeq(), now)
	s.History = append(slices.Clip(s.History), msg)
	s.PendingID = msg.ID
	return s, msg, nil
}

// ApplyTurn confirms the pending message with the tutor's reply. A non-empty
// progress overwrites the checklist.
func ApplyTurn(s State, reply domain.Message, progress string) State {
	s.History = append(slices.Clip(s.History), reply)
	s.PendingID = ""
	if progress != "" {
		s.Progress = progress
	}
	return s
}

// RevertTurn removes the pending message so the history holds only
// confirmed exchanges.
func RevertTurn(s State) State {
	s.History = s.Confirmed()
	s.PendingID = ""
	return s
}

// ApplyHint records a hint message.
func ApplyHint(s State, hint domain.Message) (State, error) {
	if err := s.mutable(); err != nil {
		return s, err
	}
	s.History = append(slices.Clip(s.History), hint)
	s.Hints = append(slices.Clip(s.Hints), hint.Content)
	return s, nil
}

// BeginEnd moves an Active session into Ending while the summary is produced.
func BeginEnd(s State) (State, error) {
	if err := s.mutable(); err != nil {
		return s, err
	}
	s.Phase = PhaseEnding
	return s, nil
}

// CompleteEnd stores the recap and marks the session completed. The state
// remains in Ending until the learner acknowledges the recap.
func CompleteEnd(s State, summary string, keyLearnings []string) State {
	s.Summary = summary
	s.KeyLearnings = slices.Clone(keyLearnings)
	s.Completed = true
	return s
}

// AbortEnd returns to Active after a failed summarization.
func AbortEnd(s State) State {
	if !s.Completed {
		s.Phase = PhaseActive
	}
	return s
}

// Acknowledge closes the recap, or abandons the session, returning to Idle.
func Acknowledge(State) State {
	return Idle()
}

// FromDocument builds state from a persisted session document. A fresh
// document yields the Active state entered by a successful start.
func FromDocument(doc *domain.Session) State {
	s := State{
		Phase:        PhaseActive,
		DocID:        doc.ID,
		Problem:      doc.Problem,
		Topic:        doc.Topic,
		History:      sortedBySeq(doc.Messages),
		Progress:     doc.Progress,
		Summary:      doc.Summary,
		KeyLearnings: slices.Clone(doc.KeyLearnings),
		Completed:    doc.Completed,
		StartedAt:    doc.Timestamp,
	}
	s.Hints = hintsOf(s.History)
	if s.Completed {
		s.Phase = PhaseEnding
	}
	return s
}

// Reconcile merges an authoritative persisted snapshot into local state.
// Messages are matched by ID: persisted ones come first in sequence order,
// followed by local messages not yet written. Completion never reverts.
// Persisted progress is adopted only when the snapshot carries messages this
// state has not seen; otherwise the local checklist is at least as new.
// Applying the same snapshot twice yields the same state.
func Reconcile(local State, doc *domain.Session) State {
	if doc == nil || doc.ID != local.DocID {
		return local
	}

	remote := sortedBySeq(doc.Messages)
	stored := lo.SliceToMap(remote, func(m domain.Message) (string, struct{}) { return m.ID, struct{}{} })
	extras := lo.Filter(local.History, func(m domain.Message, _ int) bool {
		_, ok := stored[m.ID]
		return !ok
	})

	known := lo.SliceToMap(local.History, func(m domain.Message) (string, struct{}) { return m.ID, struct{}{} })
	unseen := lo.SomeBy(remote, func(m domain.Message) bool {
		_, ok := known[m.ID]
		return !ok
	})

	merged := local
	merged.History = append(remote, extras...)
	merged.Hints = hintsOf(merged.History)
	if unseen && len(extras) == 0 && doc.Progress != "" {
		merged.Progress = doc.Progress
	}
	if doc.Summary != "" {
		merged.Summary = doc.Summary
		merged.KeyLearnings = slices.Clone(doc.KeyLearnings)
	}
	if doc.Completed && !local.Completed {
		merged.Completed = true
		merged.Phase = PhaseEnding
		merged.PendingID = ""
	}
	return merged
}

func sortedBySeq(msgs []domain.Message) []domain.Message {
	out := slices.Clone(msgs)
	if out == nil {
		out = []domain.Message{}
	}
	slices.SortStableFunc(out, func(a, b domain.Message) int { return a.Seq - b.Seq })
	return out
}

func hintsOf(msgs []domain.Message) []string {
	return lo.FilterMap(msgs, func(m domain.Message, _ int) (string, bool) {
		return m.Content, m.Role == domain.RoleHint
	})
}
