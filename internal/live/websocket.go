package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/teecode611-cmyk/studio/internal/identity"
	"github.com/teecode611-cmyk/studio/internal/metrics"
	"github.com/teecode611-cmyk/studio/internal/store"
	"github.com/teecode611-cmyk/studio/internal/tutor"
)

const (
	defaultPollInterval = time.Second
	writeTimeout        = 10 * time.Second
)

// Options configures the live endpoint.
type Options struct {
	AllowedOrigin string
	IsDev         bool
	// PollInterval is how often the handler checks whether the tab moved to
	// another session document.
	PollInterval time.Duration
	Metrics      *metrics.Collector
}

// Handler serves GET /ws/sessions/current. Every change to the tab's session
// document is re-read, reconciled into the tab's state, and pushed as a snapshot.
type Handler struct {
	svc  *tutor.Service
	repo store.Repository
	hub  *store.Hub
	reg  *Registry
	opts Options
}

// NewHandler creates a new live handler.
func NewHandler(svc *tutor.Service, repo store.Repository, hub *store.Hub, reg *Registry, opts Options) *Handler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Handler{svc: svc, repo: repo, hub: hub, reg: reg, opts: opts}
}

type clientMessage struct {
	Type string `json:"type"`
}

type snapshot struct {
	Type    string      `json:"type"`
	Session tutor.State `json:"session"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := tutor.Key{
		UserID: identity.UserIDFromContext(r.Context()),
		TabID:  identity.SessionIDFromContext(r.Context()),
	}
	slog.Info("Live connection request", "user_id", key.UserID, "session_id", key.TabID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", key.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "subscription ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", key.UserID)
		}
	}()

	h.reg.Register(key, ws)
	defer h.reg.Unregister(key, ws)
	h.opts.Metrics.LiveConnectionOpened()
	defer h.opts.Metrics.LiveConnectionClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan string, 4)
	go func() {
		defer cancel()
		h.readLoop(ctx, ws, key, requests)
	}()

	h.watch(ctx, ws, key, requests)
	slog.Info("Live connection ended", "user_id", key.UserID, "session_id", key.TabID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" || origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

// readLoop forwards client requests to the watcher, which owns all writes.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, key tutor.Key, requests chan<- string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user_id", key.UserID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", key.UserID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed live message", "user_id", key.UserID, "error", err)
			continue
		}
		switch msg.Type {
		case "ping", "refresh":
			select {
			case requests <- msg.Type:
			case <-ctx.Done():
				return
			}
		}
	}
}

// watch follows the tab's current document and pushes a snapshot on every
// change, on every switch to a different document and on request.
func (h *Handler) watch(ctx context.Context, ws *websocket.Conn, key tutor.Key, requests <-chan string) {
	var (
		docID   string
		changes <-chan struct{}
		release = func() {}
	)
	defer func() { release() }()

	follow := func() bool {
		id := h.svc.DocID(key)
		if id == docID {
			return false
		}
		release()
		docID, changes, release = id, nil, func() {}
		if id != "" {
			changes, release = h.hub.Subscribe(id)
		}
		return true
	}

	follow()
	if !h.push(ctx, ws, h.svc.Current(key)) {
		return
	}

	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()

	for {
		var ok bool
		select {
		case <-ctx.Done():
			return
		case <-changes:
			ok = h.push(ctx, ws, h.reconcile(ctx, key, docID))
		case <-ticker.C:
			ok = true
			if follow() {
				ok = h.push(ctx, ws, h.reconcile(ctx, key, docID))
			}
		case req := <-requests:
			if req == "ping" {
				ok = h.write(ctx, ws, map[string]string{"type": "pong"})
				break
			}
			follow()
			ok = h.push(ctx, ws, h.reconcile(ctx, key, docID))
		}
		if !ok {
			return
		}
	}
}

// reconcile re-reads the document and merges it into the tab's state.
func (h *Handler) reconcile(ctx context.Context, key tutor.Key, docID string) tutor.State {
	if docID == "" {
		return h.svc.Current(key)
	}
	doc, err := h.repo.GetSession(ctx, docID)
	if err != nil || doc == nil {
		if err != nil {
			slog.Warn("Failed to read session document", "doc_id", docID, "error", err)
		}
		return h.svc.Current(key)
	}
	return h.svc.Sync(key, doc)
}

func (h *Handler) push(ctx context.Context, ws *websocket.Conn, st tutor.State) bool {
	return h.write(ctx, ws, snapshot{Type: "state", Session: st})
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode live message", "error", err)
		return false
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(wctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
		return false
	}
	return true
}
