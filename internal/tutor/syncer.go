package tutor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teecode611-cmyk/studio/internal/metrics"
	"github.com/teecode611-cmyk/studio/internal/store"
)

const syncWriteTimeout = 10 * time.Second

type write struct {
	op    string
	apply func(ctx context.Context, repo store.Repository) error
}

type docQueue struct {
	pending []write
}

// Syncer writes session deltas to the repository in the background. Writes
// for one document run strictly in the order they were enqueued; writes for
// different documents proceed independently. Busy retries are left to the
// repository.
type Syncer struct {
	repo    store.Repository
	metrics *metrics.Collector
	logger  *slog.Logger

	mu     sync.Mutex
	queues map[string]*docQueue
	wg     sync.WaitGroup
}

// NewSyncer creates a syncer over repo.
func NewSyncer(repo store.Repository, m *metrics.Collector, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewCollector(logger)
	}
	return &Syncer{
		repo:    repo,
		metrics: m,
		logger:  logger,
		queues:  make(map[string]*docQueue),
	}
}

// Enqueue schedules a write for docID behind any writes already queued for it.
func (s *Syncer) Enqueue(docID, op string, apply func(ctx context.Context, repo store.Repository) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[docID]; ok {
		q.pending = append(q.pending, write{op: op, apply: apply})
		return
	}

	q := &docQueue{pending: []write{{op: op, apply: apply}}}
	s.queues[docID] = q
	s.wg.Add(1)
	go s.drain(docID, q)
}

func (s *Syncer) drain(docID string, q *docQueue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.pending) == 0 {
			delete(s.queues, docID)
			s.mu.Unlock()
			return
		}
		w := q.pending[0]
		q.pending = q.pending[1:]
		s.mu.Unlock()

		s.run(docID, w)
	}
}

func (s *Syncer) run(docID string, w write) {
	ctx, cancel := context.WithTimeout(context.Background(), syncWriteTimeout)
	defer cancel()

	err := w.apply(ctx, s.repo)
	s.metrics.RecordWrite(w.op, err)

	switch {
	case err == nil:
		s.logger.Debug("Session write applied", "doc_id", docID, "op", w.op)
	case errors.Is(err, store.ErrCompleted), errors.Is(err, store.ErrNotFound):
		s.logger.Warn("Session write rejected", "doc_id", docID, "op", w.op, "error", err)
	default:
		s.logger.Error("Session write failed", "doc_id", docID, "op", w.op, "error", err)
	}
}

// Pending reports how many writes are queued for docID behind the one in flight.
func (s *Syncer) Pending(docID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[docID]; ok {
		return len(q.pending)
	}
	return 0
}

// Flush blocks until every queued write has finished or ctx is done.
func (s *Syncer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
