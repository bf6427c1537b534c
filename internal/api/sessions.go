package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/teecode611-cmyk/studio/internal/flows"
	"github.com/teecode611-cmyk/studio/internal/genai"
	"github.com/teecode611-cmyk/studio/internal/identity"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// SessionHandler handles tutoring session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/", h.List)
		r.Get("/current", h.Current)
		r.Post("/current/messages", h.Send)
		r.Post("/current/hints", h.Hint)
		r.Post("/current/end", h.End)
		r.Post("/current/reset", h.Reset)
		r.Post("/{id}/resume", h.Resume)
	})
	r.Post("/api/transcribe", h.Transcribe)
	r.Get("/api/flows", h.Flows)
}

// Start opens a new session from a problem statement and/or image.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var in flows.StartSessionInput
	if !h.decode(w, r, &in) {
		return
	}

	res, err := h.svc.Start(r.Context(), keyFromRequest(r), in)
	if err != nil {
		fail(w, r, flows.StartSession.Name, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// List returns the learner's past sessions and remaining daily allowance.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	history, err := h.svc.History(r.Context(), identity.UserIDFromContext(r.Context()), limit)
	if err != nil {
		fail(w, r, "history", err)
		return
	}
	JSON(w, http.StatusOK, history)
}

// Current returns the tab's session state.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.svc.Current(keyFromRequest(r)))
}

type sendRequest struct {
	Message string `json:"message"`
}

// Send runs one chat turn.
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Send(r.Context(), keyFromRequest(r), req.Message)
	if err != nil {
		fail(w, r, flows.ContinueSession.Name, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

type hintRequest struct {
	StudentAnswer string `json:"studentAnswer"`
}

// Hint requests one more hint.
func (h *SessionHandler) Hint(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var req hintRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Hint(r.Context(), keyFromRequest(r), req.StudentAnswer)
	if err != nil {
		fail(w, r, flows.GetHint.Name, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// End summarizes and completes the session.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	res, err := h.svc.End(r.Context(), keyFromRequest(r))
	if err != nil {
		fail(w, r, flows.Summarize.Name, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Reset acknowledges the recap or abandons the session.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if err := h.svc.Reset(key); err != nil {
		fail(w, r, "reset", err)
		return
	}
	JSON(w, http.StatusOK, h.svc.Current(key))
}

// Resume rehydrates a persisted session into the tab.
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Resume(r.Context(), keyFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, "resume", err)
		return
	}
	JSON(w, http.StatusOK, st)
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
}

// Transcribe converts a recorded spoken answer into text.
func (h *SessionHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var in flows.TranscribeInput
	if !h.decode(w, r, &in) {
		return
	}

	text, err := h.svc.Transcribe(r.Context(), in.AudioDataURI)
	if err != nil {
		fail(w, r, flows.Transcribe.Name, err)
		return
	}
	JSON(w, http.StatusOK, transcribeResponse{Transcription: text})
}

// Flows lists the model operations with their input and output schemas.
func (h *SessionHandler) Flows(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, genai.Catalog())
}
