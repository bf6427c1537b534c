// Package live pushes reconciled session snapshots to browser tabs over WebSocket.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/teecode611-cmyk/studio/internal/tutor"
)

// Conn is the part of a WebSocket connection the registry needs.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// Registry tracks the live connection of every tab. A tab holds at most one.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]map[string]Conn)}
}

// Active returns the connection for a tab, or nil.
func (r *Registry) Active(key tutor.Key) Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[key.UserID][key.TabID]
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, tabs := range r.active {
		n += len(tabs)
	}
	return n
}

// Register records conn for the tab, closing any connection it replaces.
func (r *Registry) Register(key tutor.Key, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tabs, ok := r.active[key.UserID]
	if !ok {
		tabs = make(map[string]Conn)
		r.active[key.UserID] = tabs
	}
	if existing, ok := tabs[key.TabID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	tabs[key.TabID] = conn
	slog.Info("Live connection registered", "user_id", key.UserID, "session_id", key.TabID)
}

// Unregister forgets conn if it is still the tab's current connection.
func (r *Registry) Unregister(key tutor.Key, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tabs, ok := r.active[key.UserID]
	if !ok || tabs[key.TabID] != conn {
		return
	}
	delete(tabs, key.TabID)
	if len(tabs) == 0 {
		delete(r.active, key.UserID)
	}
	slog.Info("Live connection unregistered", "user_id", key.UserID, "session_id", key.TabID)
}

// CloseTab terminates the tab's connection, if any.
func (r *Registry) CloseTab(key tutor.Key, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tabs := r.active[key.UserID]
	conn, ok := tabs[key.TabID]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, reason)
	delete(tabs, key.TabID)
	if len(tabs) == 0 {
		delete(r.active, key.UserID)
	}
	slog.Info("Live connection closed", "user_id", key.UserID, "session_id", key.TabID, "reason", reason)
}

// CloseAll terminates every connection. Used on shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, tabs := range r.active {
		for _, conn := range tabs {
			_ = conn.Close(websocket.StatusGoingAway, reason)
		}
		delete(r.active, userID)
	}
}
