package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teecode611-cmyk/studio/internal/domain"
	"github.com/teecode611-cmyk/studio/internal/flows"
	"github.com/teecode611-cmyk/studio/internal/genai"
	"github.com/teecode611-cmyk/studio/internal/store"
)

// scriptedModel answers each flow with a canned JSON body and records prompts.
type scriptedModel struct {
	mu      sync.Mutex
	replies map[string]string
	fail    map[string]error
	prompts map[string][]string
	block   chan struct{}
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{
		replies: map[string]string{
			"start_session":    `{"question":"What do you know about parallel lines?","initialProgress":"1. Understand the problem. (in progress)"}`,
			"continue_session": `{"response":"Interesting. Which angles are equal?","updatedProgress":"2. Draw a parallel line. (in progress)"}`,
			"get_hint":         `{"hint":"Think about alternate interior angles."}`,
			"summarize":        `{"summary":"You **proved** the angle sum.","keyLearnings":["parallel lines","alternate angles"]}`,
			"transcribe":       `{"transcription":" x equals two "}`,
		},
		fail:    map[string]error{},
		prompts: map[string][]string{},
	}
}

func (m *scriptedModel) generator() genai.Generator {
	return genai.GeneratorFunc(func(ctx context.Context, req genai.Request) (json.RawMessage, error) {
		m.mu.Lock()
		m.prompts[req.Operation] = append(m.prompts[req.Operation], req.Prompt)
		reply, err, block := m.replies[req.Operation], m.fail[req.Operation], m.block
		m.mu.Unlock()

		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err != nil {
			return nil, err
		}
		return json.RawMessage(reply), nil
	})
}

func (m *scriptedModel) set(op, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[op] = reply
}

func (m *scriptedModel) failWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

func (m *scriptedModel) calls(op string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts[op]...)
}

type fixture struct {
	svc   *Service
	repo  *store.MemoryStore
	model *scriptedModel
	key   Key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := store.NewMemory()
	model := newScriptedModel()
	svc := NewService(repo, genai.NewClient(model.generator(), genai.Options{}), Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return &fixture{svc: svc, repo: repo, model: model, key: Key{UserID: "u1", TabID: "tab-1"}}
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(ctx))
}

func (f *fixture) doc(t *testing.T, id string) *domain.Session {
	t.Helper()
	f.flush(t)
	doc, err := f.repo.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

const triangle = "Prove the sum of triangle angles is 180°"

func TestStartCreatesDocumentWithTwoMessages(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, res.State.Phase)
	assert.Equal(t, "1. Understand the problem. (in progress)", res.State.Progress)

	doc := f.doc(t, res.State.DocID)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, domain.RoleUser, doc.Messages[0].Role)
	assert.Equal(t, triangle, doc.Messages[0].Content)
	assert.Equal(t, "What do you know about parallel lines?", doc.Messages[1].Content)
	assert.False(t, doc.Completed)
	assert.Empty(t, doc.Summary)
	assert.Equal(t, triangle, doc.Topic)
}

func TestStartWithoutProblemOrImageFailsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{})
	var verr *flows.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Please either provide a problem description or an image.", verr.Message)

	assert.Empty(t, f.model.calls("start_session"))
	n, err := f.repo.CountSessionsSince(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, PhaseIdle, f.svc.Current(f.key).Phase)
}

func TestStartBackendFailureStaysIdle(t *testing.T) {
	f := newFixture(t)
	f.model.failWith("start_session", errors.New("503 unavailable"))

	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	assert.ErrorIs(t, err, genai.ErrBackend)
	assert.Equal(t, PhaseIdle, f.svc.Current(f.key).Phase)

	n, err := f.repo.CountSessionsSince(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartContractViolationIsNotCoerced(t *testing.T) {
	f := newFixture(t)
	f.model.set("start_session", `{"initialProgress":"1. Read."}`)

	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	assert.ErrorIs(t, err, genai.ErrContract)
	assert.Equal(t, PhaseIdle, f.svc.Current(f.key).Phase)
}

func TestStartEnforcesDailyQuota(t *testing.T) {
	f := newFixture(t)
	for i := range domain.PlanFree.DailySessions() {
		_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: fmt.Sprintf("problem %d", i)})
		require.NoError(t, err)
	}

	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: "one too many"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	require.NoError(t, f.repo.UpsertUser(context.Background(), &domain.User{UserID: "u1"}))
	require.NoError(t, f.repo.UpdatePlan(context.Background(), "u1", domain.PlanBasic))
	_, err = f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: "now allowed"})
	assert.NoError(t, err)
}

func TestSendAppendsTurnAndPersistsInOrder(t *testing.T) {
	f := newFixture(t)
	start, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	res, err := f.svc.Send(context.Background(), f.key, "I tried drawing a triangle")
	require.NoError(t, err)
	assert.Len(t, res.State.History, 4)
	assert.Equal(t, "Interesting. Which angles are equal?", res.Reply.Content)
	assert.Equal(t, "2. Draw a parallel line. (in progress)", res.Progress)

	_, err = f.svc.Send(context.Background(), f.key, "The ones across the line")
	require.NoError(t, err)

	doc := f.doc(t, start.State.DocID)
	require.Len(t, doc.Messages, 6)
	for i, m := range doc.Messages {
		assert.Equal(t, i, m.Seq)
	}
	assert.Equal(t, "I tried drawing a triangle", doc.Messages[2].Content)
	assert.Equal(t, domain.RoleAssistant, doc.Messages[3].Role)
	assert.Equal(t, "2. Draw a parallel line. (in progress)", doc.Progress)

	prompts := f.model.calls("continue_session")
	require.Len(t, prompts, 2)
	assert.True(t, strings.HasSuffix(prompts[1], "The ones across the line"))
	assert.Contains(t, prompts[1], "Student: I tried drawing a triangle")
	assert.NotContains(t, prompts[1], "Student: The ones across the line\n", "current message is not part of the history")
}

func TestSendFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	start, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)
	before := f.svc.Current(f.key).History

	f.model.failWith("continue_session", errors.New("quota exhausted"))
	_, err = f.svc.Send(context.Background(), f.key, "I don't know")
	assert.ErrorIs(t, err, genai.ErrBackend)

	assert.Equal(t, before, f.svc.Current(f.key).History)
	assert.Len(t, f.doc(t, start.State.DocID).Messages, 2)

	f.model.failWith("continue_session", nil)
	res, err := f.svc.Send(context.Background(), f.key, "I don't know")
	require.NoError(t, err)
	assert.Len(t, res.State.History, 4)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	_, err = f.svc.Send(context.Background(), f.key, "   ")
	var verr *flows.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Response cannot be empty.", verr.Message)
	assert.Empty(t, f.model.calls("continue_session"))
}

func TestSendWithoutSessionFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), f.key, "hello")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestConcurrentOperationIsBusy(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	release := make(chan struct{})
	f.model.mu.Lock()
	f.model.block = release
	f.model.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Send(context.Background(), f.key, "first")
		done <- err
	}()

	require.Eventually(t, func() bool { return len(f.model.calls("continue_session")) == 1 }, time.Second, 5*time.Millisecond)
	_, err = f.svc.Hint(context.Background(), f.key, "")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.svc.Send(context.Background(), f.key, "second")
	assert.ErrorIs(t, err, ErrBusy)

	other := Key{UserID: "u2", TabID: "tab-9"}
	assert.Equal(t, PhaseIdle, f.svc.Current(other).Phase)

	close(release)
	require.NoError(t, <-done)
}

func TestSendCompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	start, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	release := make(chan struct{})
	f.model.mu.Lock()
	f.model.block = release
	f.model.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Send(ctx, f.key, "I tried drawing a triangle")
		done <- err
	}()

	require.Eventually(t, func() bool { return len(f.model.calls("continue_session")) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.Never(t, func() bool { return len(done) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, f.svc.Current(f.key).History, 4)

	doc := f.doc(t, start.State.DocID)
	assert.Len(t, doc.Messages, 4)
	assert.Equal(t, "2. Draw a parallel line. (in progress)", doc.Progress)
}

func TestSendKeepsNewerProgressWhenSnapshotLags(t *testing.T) {
	f := newFixture(t)
	start, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	res, err := f.svc.Send(context.Background(), f.key, "I tried drawing a triangle")
	require.NoError(t, err)

	// A snapshot holding the new messages with the checklist from Start.
	lagging := f.doc(t, start.State.DocID)
	lagging.Progress = start.State.Progress

	st := f.svc.Sync(f.key, lagging)
	assert.Equal(t, res.Progress, st.Progress)
	assert.Len(t, st.History, 4)
}

func TestStartQuotaCountsStartsInFlight(t *testing.T) {
	f := newFixture(t)
	for i := range domain.PlanFree.DailySessions() - 1 {
		_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: fmt.Sprintf("problem %d", i)})
		require.NoError(t, err)
	}

	release := make(chan struct{})
	f.model.mu.Lock()
	f.model.block = release
	f.model.mu.Unlock()

	first := Key{UserID: "u1", TabID: "tab-a"}
	second := Key{UserID: "u1", TabID: "tab-b"}
	calls := len(f.model.calls("start_session"))

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Start(context.Background(), first, flows.StartSessionInput{Problem: "last one"})
		done <- err
	}()
	require.Eventually(t, func() bool { return len(f.model.calls("start_session")) == calls+1 }, time.Second, 5*time.Millisecond)

	_, err := f.svc.Start(context.Background(), second, flows.StartSessionInput{Problem: "one too many"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, PhaseIdle, f.svc.Current(second).Phase)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, PhaseActive, f.svc.Current(first).Phase)

	h, err := f.svc.History(context.Background(), "u1", 20)
	require.NoError(t, err)
	assert.Zero(t, h.Remaining)
}

func TestFailedStartReleasesQuota(t *testing.T) {
	f := newFixture(t)
	for i := range domain.PlanFree.DailySessions() - 1 {
		_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: fmt.Sprintf("problem %d", i)})
		require.NoError(t, err)
	}

	f.model.failWith("start_session", errors.New("unavailable"))
	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: "last one"})
	require.Error(t, err)

	f.model.failWith("start_session", nil)
	_, err = f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: "last one"})
	assert.NoError(t, err)
}

func TestSweepSkipsSessionWithOperationInFlight(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	e, err := f.svc.acquire(f.key)
	require.NoError(t, err)

	assert.Zero(t, f.svc.Sweep(-time.Second, nil))
	held, ok := f.svc.lookup(f.key)
	require.True(t, ok)
	assert.Same(t, e, held)
	e.op.Unlock()

	assert.Equal(t, 1, f.svc.Sweep(-time.Second, nil))
	_, ok = f.svc.lookup(f.key)
	assert.False(t, ok)

	fresh, err := f.svc.acquire(f.key)
	require.NoError(t, err)
	assert.Zero(t, f.svc.Sweep(-time.Second, nil), "a freshly acquired entry stays registered")
	held, ok = f.svc.lookup(f.key)
	require.True(t, ok)
	assert.Same(t, fresh, held)
	fresh.op.Unlock()
}

func TestHintsAccumulateAndArePassedBack(t *testing.T) {
	f := newFixture(t)
	start, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	first, err := f.svc.Hint(context.Background(), f.key, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHint, first.Hint.Role)

	f.model.set("get_hint", `{"hint":"Draw a line through one vertex parallel to the opposite side."}`)
	second, err := f.svc.Hint(context.Background(), f.key, "I'm stuck")
	require.NoError(t, err)
	assert.Equal(t, []string{"Think about alternate interior angles.", "Draw a line through one vertex parallel to the opposite side."}, second.State.Hints)

	prompts := f.model.calls("get_hint")
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "Hints already given")
	assert.Contains(t, prompts[1], "- Think about alternate interior angles.")
	assert.Contains(t, prompts[1], "I'm stuck")

	doc := f.doc(t, start.State.DocID)
	assert.Equal(t, second.State.Hints, doc.Hints())
	assert.Equal(t, domain.RoleHint, doc.Messages[len(doc.Messages)-1].Role)
}

func TestDuplicateHintIsStillRecorded(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	_, err = f.svc.Hint(context.Background(), f.key, "")
	require.NoError(t, err)
	res, err := f.svc.Hint(context.Background(), f.key, "")
	require.NoError(t, err)
	assert.Len(t, res.State.Hints, 2)
}

func TestNearDuplicate(t *testing.T) {
	prior := []string{"Think about alternate interior angles."}
	_, dup := nearDuplicate("Think about alternate interior angles!", prior)
	assert.True(t, dup)
	_, dup = nearDuplicate("Draw a parallel line through the top vertex.", prior)
	assert.False(t, dup)
}

func TestEndCompletesSessionAndRendersRecap(t *testing.T) {
	f := newFixture(t)
	start, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)
	_, err = f.svc.Hint(context.Background(), f.key, "")
	require.NoError(t, err)

	res, err := f.svc.End(context.Background(), f.key)
	require.NoError(t, err)
	assert.True(t, res.State.Completed)
	assert.Equal(t, PhaseEnding, res.State.Phase)
	assert.Contains(t, res.SummaryHTML, "<strong>proved</strong>")
	assert.Equal(t, []string{"parallel lines", "alternate angles"}, res.KeyLearnings)

	dialogue := f.model.calls("summarize")
	require.Len(t, dialogue, 1)
	assert.Contains(t, dialogue[0], "Student: "+triangle)
	assert.NotContains(t, dialogue[0], "Hint:", "hints are excluded by default")

	_, err = f.svc.Send(context.Background(), f.key, "one more thing")
	assert.ErrorIs(t, err, ErrSessionCompleted)
	_, err = f.svc.Hint(context.Background(), f.key, "")
	assert.ErrorIs(t, err, ErrSessionCompleted)

	doc := f.doc(t, start.State.DocID)
	assert.True(t, doc.Completed)
	assert.Equal(t, "You **proved** the angle sum.", doc.Summary)

	require.NoError(t, f.svc.Reset(f.key))
	assert.Equal(t, PhaseIdle, f.svc.Current(f.key).Phase)
}

func TestEndFailureKeepsSessionActive(t *testing.T) {
	f := newFixture(t)
	start, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	f.model.failWith("summarize", errors.New("timeout"))
	_, err = f.svc.End(context.Background(), f.key)
	assert.ErrorIs(t, err, genai.ErrBackend)

	st := f.svc.Current(f.key)
	assert.Equal(t, PhaseActive, st.Phase)
	assert.False(t, st.Completed)
	assert.False(t, f.doc(t, start.State.DocID).Completed)
}

func TestSummaryCanIncludeHints(t *testing.T) {
	repo := store.NewMemory()
	model := newScriptedModel()
	svc := NewService(repo, genai.NewClient(model.generator(), genai.Options{}), Options{SummaryIncludeHints: true})
	key := Key{UserID: "u1", TabID: "t"}

	_, err := svc.Start(context.Background(), key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)
	_, err = svc.Hint(context.Background(), key, "")
	require.NoError(t, err)
	_, err = svc.End(context.Background(), key)
	require.NoError(t, err)

	assert.Contains(t, model.calls("summarize")[0], "Hint: Think about alternate interior angles.")
	require.NoError(t, svc.Close(context.Background()))
}

func TestLearningContextFeedsLaterSessions(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)
	_, err = f.svc.End(context.Background(), f.key)
	require.NoError(t, err)
	require.NoError(t, f.svc.Reset(f.key))
	f.flush(t)

	_, err = f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: "Find the exterior angle"})
	require.NoError(t, err)
	_, err = f.svc.Send(context.Background(), f.key, "Is it 180 minus the interior?")
	require.NoError(t, err)

	prompt := f.model.calls("continue_session")[0]
	assert.Contains(t, prompt, "Topic: "+triangle)
	assert.Contains(t, prompt, "KeyLearnings: parallel lines, alternate angles")

	lc, err := f.svc.LearningContext(context.Background(), "u1")
	require.NoError(t, err)
	assert.Contains(t, lc, "Summary: You **proved** the angle sum.")
}

func TestImageOnlySession(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{ImageDataURI: tinyPNG(t)})
	require.NoError(t, err)

	doc := f.doc(t, res.State.DocID)
	assert.Equal(t, "I have uploaded an image of my problem.", doc.Messages[0].Content)
	assert.Equal(t, flows.TopicForImage, doc.Topic)
	assert.Equal(t, flows.ProblemForImage, doc.Problem)

	_, err = f.svc.Send(context.Background(), f.key, "It's a triangle")
	assert.NoError(t, err)
}

func TestUnreadableImageIsAValidationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{ImageDataURI: "data:image/png;base64,aGVsbG8="})
	var verr *flows.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "imageDataUri", verr.Field)
	assert.Empty(t, f.model.calls("start_session"))
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	start, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)
	_, err = f.svc.Send(context.Background(), f.key, "I tried drawing a triangle")
	require.NoError(t, err)
	f.flush(t)

	other := Key{UserID: "u1", TabID: "tab-2"}
	st, err := f.svc.Resume(context.Background(), other, start.State.DocID)
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, st.Phase)
	assert.Len(t, st.History, 4)
	assert.Equal(t, triangle, st.Problem)

	_, err = f.svc.Resume(context.Background(), Key{UserID: "intruder", TabID: "x"}, start.State.DocID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.Resume(context.Background(), Key{UserID: "u1", TabID: "tab-4"}, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.End(context.Background(), other)
	require.NoError(t, err)
	f.flush(t)
	_, err = f.svc.Resume(context.Background(), Key{UserID: "u1", TabID: "tab-3"}, start.State.DocID)
	assert.ErrorIs(t, err, ErrSessionCompleted)
}

func TestSyncReconcilesRemoteChanges(t *testing.T) {
	f := newFixture(t)
	start, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	doc := f.doc(t, start.State.DocID)
	doc.Messages = append(doc.Messages, domain.NewMessage(domain.RoleHint, "From another tab", 2, time.Now()))

	st := f.svc.Sync(f.key, doc)
	assert.Len(t, st.History, 3)
	assert.Equal(t, []string{"From another tab"}, st.Hints)
	assert.Len(t, f.svc.Sync(f.key, doc).History, 3)
}

func TestHistoryReportsRemainingQuota(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), f.key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	h, err := f.svc.History(context.Background(), "u1", 20)
	require.NoError(t, err)
	assert.Len(t, h.Sessions, 1)
	assert.Equal(t, domain.PlanFree.DailySessions()-1, h.Remaining)
	assert.Equal(t, domain.PlanFree, h.Plan)
}

func TestTranscribe(t *testing.T) {
	f := newFixture(t)
	text, err := f.svc.Transcribe(context.Background(), "data:audio/webm;base64,GkXfow==")
	require.NoError(t, err)
	assert.Equal(t, "x equals two", text)

	_, err = f.svc.Transcribe(context.Background(), "not a uri")
	var verr *flows.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	repo := store.NewMemory()
	model := newScriptedModel()
	now := t0
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	svc := NewService(repo, genai.NewClient(model.generator(), genai.Options{}), Options{Now: clock})
	key := Key{UserID: "u1", TabID: "t"}

	_, err := svc.Start(context.Background(), key, flows.StartSessionInput{Problem: triangle})
	require.NoError(t, err)

	var evicted []Key
	assert.Zero(t, svc.Sweep(time.Hour, func(k Key) { evicted = append(evicted, k) }))

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	assert.Equal(t, 1, svc.Sweep(time.Hour, func(k Key) { evicted = append(evicted, k) }))
	assert.Equal(t, []Key{key}, evicted)
	assert.Equal(t, PhaseIdle, svc.Current(key).Phase)
	require.NoError(t, svc.Close(context.Background()))
}
