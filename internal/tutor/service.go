package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/teecode611-cmyk/studio/internal/domain"
	"github.com/teecode611-cmyk/studio/internal/flows"
	"github.com/teecode611-cmyk/studio/internal/genai"
	"github.com/teecode611-cmyk/studio/internal/media"
	"github.com/teecode611-cmyk/studio/internal/metrics"
	"github.com/teecode611-cmyk/studio/internal/store"
)

// Key identifies one browser tab of one learner.
type Key struct {
	UserID string
	TabID  string
}

// Options configures a Service.
type Options struct {
	LearningContextSessions int
	SummaryIncludeHints     bool
	MaxImageDimension       int
	Now                     func() time.Time
	Metrics                 *metrics.Collector
	Logger                  *slog.Logger
}

type entry struct {
	// op serializes operations on the session; a second caller gets ErrBusy.
	op sync.Mutex

	mu      sync.Mutex
	state   State
	touched time.Time
}

// Service owns the in-memory session of every tab and drives it through
// model calls and persistence.
type Service struct {
	repo    store.Repository
	ai      *genai.Client
	syncer  *Syncer
	opts    Options
	metrics *metrics.Collector
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[Key]*entry

	// quota guards starting, the per-user count of starts that passed the
	// quota check but have not yet created their document.
	quota    sync.Mutex
	starting map[string]int
}

// NewService creates a tutoring service.
func NewService(repo store.Repository, ai *genai.Client, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LearningContextSessions <= 0 {
		opts.LearningContextSessions = flows.LearningContextSessions
	}
	if opts.MaxImageDimension <= 0 {
		opts.MaxImageDimension = 1568
	}
	return &Service{
		repo:     repo,
		ai:       ai,
		syncer:   NewSyncer(repo, opts.Metrics, opts.Logger),
		opts:     opts,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		sessions: make(map[Key]*entry),
		starting: make(map[string]int),
	}
}

func (s *Service) entry(key Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryLocked(key)
}

func (s *Service) entryLocked(key Key) *entry {
	e, ok := s.sessions[key]
	if !ok {
		e = &entry{state: Idle(), touched: s.opts.Now()}
		s.sessions[key] = e
		s.metrics.SetActiveSessions(len(s.sessions))
	}
	return e
}

func (s *Service) lookup(key Key) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[key]
	return e, ok
}

// acquire takes the operation lock for key or fails with ErrBusy. The lock
// is taken while holding s.mu so the sweeper cannot evict the entry between
// lookup and lock.
func (s *Service) acquire(key Key) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(key)
	if !e.op.TryLock() {
		s.logger.Warn("Session operation already in progress", "user_id", key.UserID, "session_id", key.TabID)
		return nil, ErrBusy
	}
	return e, nil
}

func (e *entry) snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *entry) set(st State, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st
	e.touched = now
}

// update applies fn to the current state under the state lock.
func (e *entry) update(now time.Time, fn func(State) (State, error)) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := fn(e.state)
	if err != nil {
		return e.state, err
	}
	e.state = next
	e.touched = now
	return next, nil
}

// StartResult is the outcome of a successful start.
type StartResult struct {
	State         State  `json:"session"`
	Hint          string `json:"hint,omitempty"`
	Encouragement string `json:"encouragement,omitempty"`
}

// Start opens a new session from problem text, an image, or both. Any
// session already open in the tab is discarded on success. On failure the
// tab keeps its previous state and no document is created. Once accepted
// the operation runs to completion even if the caller goes away; the model
// call stays bounded by the client timeout.
func (s *Service) Start(ctx context.Context, key Key, in flows.StartSessionInput) (*StartResult, error) {
	ctx = context.WithoutCancel(ctx)
	e, err := s.acquire(key)
	if err != nil {
		return nil, err
	}
	defer e.op.Unlock()

	if err := flows.StartSession.ValidateInput(in); err != nil {
		return nil, err
	}

	now := s.opts.Now()
	release, err := s.reserveStart(ctx, key.UserID, now)
	if err != nil {
		return nil, err
	}
	defer release()

	if in.ImageDataURI != "" {
		img, err := media.ParseDataURI(in.ImageDataURI)
		if err == nil {
			img, err = media.NormalizeImage(img, s.opts.MaxImageDimension)
		}
		if err != nil {
			s.logger.Warn("Rejected problem image", "user_id", key.UserID, "error", err)
			return nil, &flows.ValidationError{
				Flow:    flows.StartSession.Name,
				Field:   "imageDataUri",
				Message: "The image could not be read. Please try another photo.",
			}
		}
		in.ImageDataURI = img.String()
	}

	out, err := genai.Invoke(ctx, s.ai, flows.StartSession, in)
	if err != nil {
		return nil, err
	}

	hasImage := in.ImageDataURI != ""
	doc := &domain.Session{
		ID:      uuid.Must(uuid.NewV7()).String(),
		UserID:  key.UserID,
		Problem: flows.ProblemStatement(in.Problem),
		Topic:   flows.Topic(in.Problem),
		Messages: []domain.Message{
			domain.NewMessage(domain.RoleUser, flows.OpeningMessage(in.Problem, hasImage), 0, now),
			domain.NewMessage(domain.RoleAssistant, out.Question, 1, now),
		},
		Progress:     out.InitialProgress,
		KeyLearnings: []string{},
		Timestamp:    now,
		UpdatedAt:    now,
	}

	err = s.repo.CreateSession(ctx, doc)
	s.metrics.RecordWrite("create", err)
	if err != nil {
		return nil, fmt.Errorf("create session document: %w", err)
	}

	st := FromDocument(doc)
	e.set(st, now)

	s.logger.Info("Session started", "user_id", key.UserID, "session_id", key.TabID, "doc_id", doc.ID, "image", hasImage)
	return &StartResult{State: st, Hint: out.Hint, Encouragement: out.Encouragement}, nil
}

// reserveStart claims one of the user's remaining starts for today. Starts
// still in flight in other tabs count against the quota until release.
func (s *Service) reserveStart(ctx context.Context, userID string, now time.Time) (func(), error) {
	s.quota.Lock()
	defer s.quota.Unlock()

	remaining, err := s.remaining(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if remaining-s.starting[userID] <= 0 {
		return nil, ErrQuotaExceeded
	}
	s.starting[userID]++

	return func() {
		s.quota.Lock()
		defer s.quota.Unlock()
		s.starting[userID]--
		if s.starting[userID] <= 0 {
			delete(s.starting, userID)
		}
	}, nil
}

func (s *Service) remaining(ctx context.Context, userID string, now time.Time) (int, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		user = &domain.User{UserID: userID, Plan: domain.PlanFree}
	}
	started, err := s.repo.CountSessionsSince(ctx, userID, domain.StartOfDay(now))
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return user.RemainingSessions(started), nil
}

// TurnResult is the outcome of a chat turn.
type TurnResult struct {
	Reply    domain.Message `json:"reply"`
	Progress string         `json:"progress,omitempty"`
	State    State          `json:"session"`
}

// Send runs one chat turn. The learner's message is appended optimistically
// and removed again if the model call fails.
func (s *Service) Send(ctx context.Context, key Key, text string) (*TurnResult, error) {
	ctx = context.WithoutCancel(ctx)
	e, err := s.acquire(key)
	if err != nil {
		return nil, err
	}
	defer e.op.Unlock()

	st := e.snapshot()
	if err := st.mutable(); err != nil {
		return nil, err
	}

	learning, err := s.learningContext(ctx, key.UserID, st.DocID)
	if err != nil {
		return nil, err
	}

	in := flows.ContinueSessionInput{
		Problem:             st.Problem,
		LearningContext:     learning,
		ConversationHistory: flows.TurnsFromMessages(st.Confirmed()),
		CurrentMessage:      strings.TrimSpace(text),
		Progress:            st.Progress,
	}
	if err := flows.ContinueSession.ValidateInput(in); err != nil {
		return nil, err
	}

	var userMsg domain.Message
	if _, err := e.update(s.opts.Now(), func(cur State) (State, error) {
		next, msg, err := BeginTurn(cur, in.CurrentMessage, s.opts.Now())
		userMsg = msg
		return next, err
	}); err != nil {
		return nil, err
	}

	out, err := genai.Invoke(ctx, s.ai, flows.ContinueSession, in)
	if err != nil {
		_, _ = e.update(s.opts.Now(), func(cur State) (State, error) { return RevertTurn(cur), nil })
		s.logger.Warn("Chat turn rolled back", "user_id", key.UserID, "doc_id", st.DocID, "error", err)
		return nil, err
	}

	var reply domain.Message
	next, _ := e.update(s.opts.Now(), func(cur State) (State, error) {
		reply = domain.NewMessage(domain.RoleAssistant, out.Response, cur.NextSeq(), s.opts.Now())
		return ApplyTurn(cur, reply, out.UpdatedProgress), nil
	})

	s.syncer.Enqueue(st.DocID, "turn", func(ctx context.Context, repo store.Repository) error {
		return repo.AppendTurn(ctx, st.DocID, out.UpdatedProgress, userMsg, reply)
	})

	return &TurnResult{Reply: reply, Progress: next.Progress, State: next}, nil
}

func (s *Service) learningContext(ctx context.Context, userID, excludeID string) (string, error) {
	past, err := s.repo.ListSessions(ctx, userID, store.SessionQuery{
		Limit:         s.opts.LearningContextSessions,
		CompletedOnly: true,
		ExcludeID:     excludeID,
	})
	if err != nil {
		return "", fmt.Errorf("load learning context: %w", err)
	}
	return flows.LearningContext(past, s.opts.LearningContextSessions), nil
}

// HintResult is the outcome of a hint request.
type HintResult struct {
	Hint  domain.Message `json:"hint"`
	State State          `json:"session"`
}

// duplicateHintRatio is the share of characters two hints may differ by and
// still count as the same hint.
const duplicateHintRatio = 0.2

// Hint asks for one more hint. studentAnswer defaults to the learner's most
// recent message.
func (s *Service) Hint(ctx context.Context, key Key, studentAnswer string) (*HintResult, error) {
	ctx = context.WithoutCancel(ctx)
	e, err := s.acquire(key)
	if err != nil {
		return nil, err
	}
	defer e.op.Unlock()

	st := e.snapshot()
	if err := st.mutable(); err != nil {
		return nil, err
	}

	answer := strings.TrimSpace(studentAnswer)
	if answer == "" {
		answer = st.LastStudentAnswer()
	}

	out, err := genai.Invoke(ctx, s.ai, flows.GetHint, flows.GetHintInput{
		Question:      st.Problem,
		StudentAnswer: answer,
		PreviousHints: st.Hints,
	})
	if err != nil {
		return nil, err
	}

	if prior, dup := nearDuplicate(out.Hint, st.Hints); dup {
		s.metrics.RecordDuplicateHint()
		s.logger.Info("Model repeated an earlier hint", "doc_id", st.DocID, "hint", out.Hint, "previous", prior)
	}

	var hint domain.Message
	next, err := e.update(s.opts.Now(), func(cur State) (State, error) {
		hint = domain.NewMessage(domain.RoleHint, out.Hint, cur.NextSeq(), s.opts.Now())
		return ApplyHint(cur, hint)
	})
	if err != nil {
		return nil, err
	}

	s.syncer.Enqueue(st.DocID, "append", func(ctx context.Context, repo store.Repository) error {
		return repo.AppendMessages(ctx, st.DocID, hint)
	})
	return &HintResult{Hint: hint, State: next}, nil
}

func nearDuplicate(hint string, previous []string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(hint))
	for _, p := range previous {
		prior := strings.ToLower(strings.TrimSpace(p))
		if prior == normalized {
			return p, true
		}
		longest := max(len(prior), len(normalized))
		if float64(fuzzy.LevenshteinDistance(prior, normalized)) <= duplicateHintRatio*float64(longest) {
			return p, true
		}
	}
	return "", false
}

// EndResult is the recap of a finished session.
type EndResult struct {
	Summary      string   `json:"summary"`
	SummaryHTML  string   `json:"summaryHtml"`
	KeyLearnings []string `json:"keyLearnings"`
	State        State    `json:"session"`
}

// End summarizes the session and marks it completed. The recap stays
// available until Reset.
func (s *Service) End(ctx context.Context, key Key) (*EndResult, error) {
	ctx = context.WithoutCancel(ctx)
	e, err := s.acquire(key)
	if err != nil {
		return nil, err
	}
	defer e.op.Unlock()

	st, err := e.update(s.opts.Now(), BeginEnd)
	if err != nil {
		return nil, err
	}

	out, err := genai.Invoke(ctx, s.ai, flows.Summarize, flows.SummarizeInput{
		Dialogue: flows.Transcript(st.Confirmed(), s.opts.SummaryIncludeHints),
	})
	if err != nil {
		_, _ = e.update(s.opts.Now(), func(cur State) (State, error) { return AbortEnd(cur), nil })
		return nil, err
	}

	next, _ := e.update(s.opts.Now(), func(cur State) (State, error) {
		return CompleteEnd(cur, out.Summary, out.KeyLearnings), nil
	})

	keyLearnings := next.KeyLearnings
	s.syncer.Enqueue(st.DocID, "complete", func(ctx context.Context, repo store.Repository) error {
		return repo.CompleteSession(ctx, st.DocID, out.Summary, keyLearnings)
	})

	html, err := RenderRecap(out.Summary)
	if err != nil {
		s.logger.Warn("Failed to render recap", "doc_id", st.DocID, "error", err)
	}

	s.logger.Info("Session completed", "user_id", key.UserID, "doc_id", st.DocID, "messages", len(st.History))
	return &EndResult{
		Summary:      out.Summary,
		SummaryHTML:  html,
		KeyLearnings: keyLearnings,
		State:        next,
	}, nil
}

// Reset acknowledges the recap or abandons the session, returning the tab to Idle.
func (s *Service) Reset(key Key) error {
	e, err := s.acquire(key)
	if err != nil {
		return err
	}
	defer e.op.Unlock()

	e.set(Acknowledge(e.snapshot()), s.opts.Now())
	return nil
}

// Current returns the tab's session state.
func (s *Service) Current(key Key) State {
	e, ok := s.lookup(key)
	if !ok {
		return Idle()
	}
	return e.snapshot()
}

// Resume rehydrates an Active session from its persisted document.
func (s *Service) Resume(ctx context.Context, key Key, docID string) (State, error) {
	e, err := s.acquire(key)
	if err != nil {
		return State{}, err
	}
	defer e.op.Unlock()

	cur := e.snapshot()
	if cur.Phase != PhaseIdle && cur.DocID != docID && !cur.Completed {
		return cur, ErrSessionActive
	}

	doc, err := s.repo.GetSession(ctx, docID)
	if err != nil {
		return cur, fmt.Errorf("get session: %w", err)
	}
	if doc == nil {
		return cur, store.ErrNotFound
	}
	if doc.UserID != key.UserID {
		return cur, ErrNotOwner
	}
	if doc.Completed {
		return cur, ErrSessionCompleted
	}

	st := FromDocument(doc)
	if cur.DocID == docID {
		st = Reconcile(cur, doc)
	}
	e.set(st, s.opts.Now())
	return st, nil
}

// Sync reconciles the tab's state with a persisted snapshot.
func (s *Service) Sync(key Key, doc *domain.Session) State {
	e, ok := s.lookup(key)
	if !ok {
		return Idle()
	}
	st, _ := e.update(s.opts.Now(), func(cur State) (State, error) {
		return Reconcile(cur, doc), nil
	})
	return st
}

// History is the learner's session list with the remaining daily allowance.
type History struct {
	Sessions  []*domain.Session `json:"sessions"`
	Remaining int               `json:"remainingToday"`
	Plan      domain.Plan       `json:"plan"`
}

// History lists the learner's sessions, most recent first.
func (s *Service) History(ctx context.Context, userID string, limit int) (*History, error) {
	var (
		h    History
		user *domain.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions, err := s.repo.ListSessions(gctx, userID, store.SessionQuery{Limit: limit})
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		h.Sessions = sessions
		return nil
	})
	g.Go(func() error {
		remaining, err := s.remaining(gctx, userID, s.opts.Now())
		if err != nil {
			return err
		}
		h.Remaining = remaining
		return nil
	})
	g.Go(func() error {
		u, err := s.repo.GetUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		user = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	h.Plan = domain.PlanFree
	if user != nil && user.Plan != "" {
		h.Plan = user.Plan
	}
	if h.Sessions == nil {
		h.Sessions = []*domain.Session{}
	}
	return &h, nil
}

// LearningContext returns the digest the next chat turn of userID would see.
func (s *Service) LearningContext(ctx context.Context, userID string) (string, error) {
	return s.learningContext(ctx, userID, "")
}

// Transcribe converts a recorded answer into text. It does not touch session state.
func (s *Service) Transcribe(ctx context.Context, audioDataURI string) (string, error) {
	out, err := genai.Invoke(ctx, s.ai, flows.Transcribe, flows.TranscribeInput{AudioDataURI: audioDataURI})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Transcription), nil
}

// DocID returns the persisted document backing the tab's session, if any.
func (s *Service) DocID(key Key) string {
	return s.Current(key).DocID
}

// Close waits for queued writes to reach the repository.
func (s *Service) Close(ctx context.Context) error {
	if err := s.syncer.Flush(ctx); err != nil {
		return fmt.Errorf("flush session writes: %w", err)
	}
	return nil
}
