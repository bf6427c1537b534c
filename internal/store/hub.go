package store

import (
	"context"
	"sync"

	"github.com/teecode611-cmyk/studio/internal/domain"
)

// Hub fans out change notifications for session documents. Notifications
// carry no payload; subscribers re-read the document. Each subscriber channel
// holds at most one pending signal, so bursts of writes coalesce.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan struct{}
	next int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan struct{})}
}

// Subscribe registers interest in a document. The returned cancel func must
// be called to release the subscription.
func (h *Hub) Subscribe(docID string) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan struct{}, 1)
	if h.subs[docID] == nil {
		h.subs[docID] = make(map[int]chan struct{})
	}
	h.subs[docID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[docID], id)
			if len(h.subs[docID]) == 0 {
				delete(h.subs, docID)
			}
		})
	}
}

// Publish signals every subscriber of docID without blocking.
func (h *Hub) Publish(docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[docID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for docID.
func (h *Hub) Subscribers(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[docID])
}

// observed publishes to a Hub after every successful document write.
type observed struct {
	Repository
	hub *Hub
}

// Observe wraps repo so that document writes notify hub subscribers.
func Observe(repo Repository, hub *Hub) Repository {
	return &observed{Repository: repo, hub: hub}
}

func (o *observed) publishOnSuccess(id string, err error) error {
	if err == nil {
		o.hub.Publish(id)
	}
	return err
}

func (o *observed) CreateSession(ctx context.Context, session *domain.Session) error {
	return o.publishOnSuccess(session.ID, o.Repository.CreateSession(ctx, session))
}

func (o *observed) AppendMessages(ctx context.Context, id string, msgs ...domain.Message) error {
	return o.publishOnSuccess(id, o.Repository.AppendMessages(ctx, id, msgs...))
}

func (o *observed) AppendTurn(ctx context.Context, id string, progress string, msgs ...domain.Message) error {
	return o.publishOnSuccess(id, o.Repository.AppendTurn(ctx, id, progress, msgs...))
}

func (o *observed) CompleteSession(ctx context.Context, id string, summary string, keyLearnings []string) error {
	return o.publishOnSuccess(id, o.Repository.CompleteSession(ctx, id, summary, keyLearnings))
}
