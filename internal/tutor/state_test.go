package tutor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teecode611-cmyk/studio/internal/domain"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func activeState() State {
	return FromDocument(&domain.Session{
		ID:      "doc-1",
		UserID:  "u1",
		Problem: "Solve 2x + 3 = 7",
		Topic:   "Solve 2x + 3 = 7",
		Messages: []domain.Message{
			domain.NewMessage(domain.RoleUser, "Solve 2x + 3 = 7", 0, t0),
			domain.NewMessage(domain.RoleAssistant, "What could you do first?", 1, t0),
		},
		Timestamp: t0,
	})
}

func TestTurnRollbackRestoresHistory(t *testing.T) {
	before := activeState()

	pending, msg, err := BeginTurn(before, "subtract 3", t0)
	require.NoError(t, err)
	assert.Len(t, pending.History, 3)
	assert.Equal(t, msg.ID, pending.PendingID)
	assert.Len(t, before.History, 2, "original state must not be mutated")

	reverted := RevertTurn(pending)
	assert.Equal(t, before.History, reverted.History)
	assert.Empty(t, reverted.PendingID)
}

func TestApplyTurnAppendsReplyAndProgress(t *testing.T) {
	st, _, err := BeginTurn(activeState(), "subtract 3", t0)
	require.NoError(t, err)

	_, _, err = BeginTurn(st, "again", t0)
	assert.ErrorIs(t, err, ErrBusy)

	reply := domain.NewMessage(domain.RoleAssistant, "Good. What now?", st.NextSeq(), t0)
	st = ApplyTurn(st, reply, "1. Isolate x. (done)")
	assert.Len(t, st.History, 4)
	assert.Equal(t, domain.RoleAssistant, st.History[3].Role)
	assert.Equal(t, "1. Isolate x. (done)", st.Progress)
	assert.Empty(t, st.PendingID)

	st = ApplyTurn(st, domain.NewMessage(domain.RoleAssistant, "x", st.NextSeq(), t0), "")
	assert.Equal(t, "1. Isolate x. (done)", st.Progress, "empty progress keeps the checklist")
}

func TestHintsAreMonotonic(t *testing.T) {
	st := activeState()
	var lengths []int
	for _, text := range []string{"Think about inverse operations.", "What undoes +3?"} {
		var err error
		st, err = ApplyHint(st, domain.NewMessage(domain.RoleHint, text, st.NextSeq(), t0))
		require.NoError(t, err)
		lengths = append(lengths, len(st.Hints))
	}
	assert.Equal(t, []int{1, 2}, lengths)
	assert.Equal(t, domain.RoleHint, st.History[len(st.History)-1].Role)
}

func TestCompletionIsTerminal(t *testing.T) {
	st, err := BeginEnd(activeState())
	require.NoError(t, err)
	assert.Equal(t, PhaseEnding, st.Phase)

	_, _, err = BeginTurn(st, "wait", t0)
	assert.ErrorIs(t, err, ErrBusy)

	st = CompleteEnd(st, "You isolated x.", []string{"inverse operations"})
	assert.True(t, st.Completed)

	_, _, err = BeginTurn(st, "one more", t0)
	assert.ErrorIs(t, err, ErrSessionCompleted)
	_, err = ApplyHint(st, domain.NewMessage(domain.RoleHint, "h", st.NextSeq(), t0))
	assert.ErrorIs(t, err, ErrSessionCompleted)
	_, err = BeginEnd(st)
	assert.ErrorIs(t, err, ErrSessionCompleted)

	assert.True(t, AbortEnd(st).Completed, "abort never reopens a completed session")
	assert.Equal(t, PhaseIdle, Acknowledge(st).Phase)
}

func TestAbortEndReturnsToActive(t *testing.T) {
	st, err := BeginEnd(activeState())
	require.NoError(t, err)
	st = AbortEnd(st)
	assert.Equal(t, PhaseActive, st.Phase)
	assert.False(t, st.Completed)
}

func TestIdleRejectsMutations(t *testing.T) {
	_, _, err := BeginTurn(Idle(), "hi", t0)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = BeginEnd(Idle())
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestReconcileKeepsOptimisticMessages(t *testing.T) {
	local := activeState()
	doc := &domain.Session{ID: local.DocID, Messages: local.History}

	local, pendingMsg, err := BeginTurn(local, "subtract 3", t0)
	require.NoError(t, err)

	merged := Reconcile(local, doc)
	require.Len(t, merged.History, 3)
	assert.Equal(t, pendingMsg.ID, merged.History[2].ID)
	assert.Equal(t, pendingMsg.ID, merged.PendingID)

	assert.Equal(t, merged, Reconcile(merged, doc), "reconcile must be idempotent")
}

func TestReconcileAdoptsRemoteMessagesWithoutDuplicates(t *testing.T) {
	local := activeState()
	hint := domain.NewMessage(domain.RoleHint, "Try subtracting.", 2, t0)

	doc := &domain.Session{
		ID:       local.DocID,
		Messages: []domain.Message{hint, local.History[1], local.History[0]},
		Progress: "1. Isolate x.",
	}
	merged := Reconcile(local, doc)
	require.Len(t, merged.History, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{merged.History[0].Seq, merged.History[1].Seq, merged.History[2].Seq})
	assert.Equal(t, []string{"Try subtracting."}, merged.Hints)
	assert.Equal(t, "1. Isolate x.", merged.Progress)

	again := Reconcile(merged, doc)
	assert.Len(t, again.History, 3)
}

func TestReconcileDoesNotRegressLocalProgress(t *testing.T) {
	base := activeState()
	base.Progress = "1. Isolate x. (in progress)"

	st, userMsg, err := BeginTurn(base, "subtract 3", t0)
	require.NoError(t, err)
	reply := domain.NewMessage(domain.RoleAssistant, "Good. What now?", st.NextSeq(), t0)
	st = ApplyTurn(st, reply, "1. Isolate x. (done)")

	// Persisted copy already holds the turn but an older checklist.
	doc := &domain.Session{
		ID:       st.DocID,
		Messages: append(append([]domain.Message{}, base.History...), userMsg, reply),
		Progress: "1. Isolate x. (in progress)",
	}
	merged := Reconcile(st, doc)
	assert.Equal(t, "1. Isolate x. (done)", merged.Progress)
	assert.Len(t, merged.History, 4)

	// A message from elsewhere brings its checklist along.
	remote := domain.NewMessage(domain.RoleHint, "Divide both sides by 2.", 4, t0)
	doc.Messages = append(doc.Messages, remote)
	doc.Progress = "2. Divide. (in progress)"
	merged = Reconcile(merged, doc)
	assert.Equal(t, "2. Divide. (in progress)", merged.Progress)
	assert.Equal(t, []string{"Divide both sides by 2."}, merged.Hints)
}

func TestReconcileCompletionIsMonotonic(t *testing.T) {
	local := CompleteEnd(activeState(), "done", nil)
	local.Phase = PhaseEnding

	doc := &domain.Session{ID: local.DocID, Messages: local.History, Completed: false}
	assert.True(t, Reconcile(local, doc).Completed)

	other := activeState()
	doc.Completed = true
	doc.Summary = "remote summary"
	merged := Reconcile(other, doc)
	assert.True(t, merged.Completed)
	assert.Equal(t, PhaseEnding, merged.Phase)
	assert.Equal(t, "remote summary", merged.Summary)
}

func TestReconcileIgnoresOtherDocuments(t *testing.T) {
	local := activeState()
	assert.Equal(t, local, Reconcile(local, &domain.Session{ID: "other", Completed: true}))
	assert.Equal(t, local, Reconcile(local, nil))
}

func TestLastStudentAnswerSkipsOpening(t *testing.T) {
	st := activeState()
	assert.Empty(t, st.LastStudentAnswer())

	st, _, _ = BeginTurn(st, "x = 2?", t0)
	assert.Equal(t, "x = 2?", st.LastStudentAnswer())
}
