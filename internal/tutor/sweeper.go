package tutor

import (
	"context"
	"time"
)

const sweepInterval = 5 * time.Minute

// EvictCallback is called for every tab whose session the sweeper evicts.
type EvictCallback func(key Key)

// StartSweeper runs a background goroutine that periodically drops
// in-memory sessions untouched for longer than ttl. Persisted documents are
// left alone, so an evicted session can still be resumed.
func (s *Service) StartSweeper(ctx context.Context, ttl time.Duration, onEvict EvictCallback) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Session sweeper started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl, onEvict)
			case <-ctx.Done():
				s.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep evicts idle sessions once and returns how many were dropped.
// Sessions with an operation in flight are skipped.
func (s *Service) Sweep(ttl time.Duration, onEvict EvictCallback) int {
	cutoff := s.opts.Now().Add(-ttl)

	s.mu.Lock()
	var evicted []Key
	for key, e := range s.sessions {
		if !e.op.TryLock() {
			continue
		}
		e.mu.Lock()
		idle := e.touched.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(s.sessions, key)
			evicted = append(evicted, key)
		}
		e.op.Unlock()
	}
	s.metrics.SetActiveSessions(len(s.sessions))
	s.mu.Unlock()

	for _, key := range evicted {
		s.logger.Info("Session sweeper evicted idle session", "user_id", key.UserID, "session_id", key.TabID)
		if onEvict != nil {
			onEvict(key)
		}
	}
	return len(evicted)
}
