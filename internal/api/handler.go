// Package api provides HTTP handlers for the tutoring API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/teecode611-cmyk/studio/internal/flows"
	"github.com/teecode611-cmyk/studio/internal/genai"
	"github.com/teecode611-cmyk/studio/internal/identity"
	"github.com/teecode611-cmyk/studio/internal/store"
	"github.com/teecode611-cmyk/studio/internal/tutor"
)

// ServerInfo is what GET /api/config reports to the frontend.
type ServerInfo struct {
	Provider            string `json:"provider"`
	Model               string `json:"model"`
	TranscribeEnabled   bool   `json:"transcribeEnabled"`
	SummaryIncludeHints bool   `json:"summaryIncludeHints"`
	AuthEnabled         bool   `json:"authEnabled"`
	MaxRequestBodyBytes int64  `json:"maxRequestBodyBytes"`
}

// Handler provides common handler utilities.
type Handler struct {
	svc     *tutor.Service
	repo    store.Repository
	limiter *RateLimiter
	maxBody int64
	info    ServerInfo
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc *tutor.Service, repo store.Repository, limiter *RateLimiter, info ServerInfo) *Handler {
	maxBody := info.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 12 << 20
	}
	return &Handler{svc: svc, repo: repo, limiter: limiter, maxBody: maxBody, info: info}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorResponse is the body of a classified failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// Error kinds let the client tell failures apart without parsing messages.
const (
	KindValidation     = "validation"
	KindAuthentication = "authentication"
	KindConflict       = "conflict"
	KindQuota          = "quota"
	KindRateLimit      = "rate_limit"
	KindNotFound       = "not_found"
	KindBackend        = "backend"
	KindInternal       = "internal"
)

// backendMessages are the user-facing messages for model failures per operation.
var backendMessages = map[string]string{
	flows.StartSession.Name:    "Could not start session",
	flows.ContinueSession.Name: "Could not get response",
	flows.GetHint.Name:         "Failed to get a hint. The AI model may be unavailable.",
	flows.Summarize.Name:       "Failed to generate a summary. The AI model may be unavailable.",
	flows.Transcribe.Name:      "Could not transcribe audio",
}

// classify maps an operation error onto a status code and response body.
func classify(op string, err error) (int, ErrorResponse) {
	var verr *flows.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: verr.Message, Kind: KindValidation, Field: verr.Field}
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: "authentication required", Kind: KindAuthentication}
	case errors.Is(err, tutor.ErrBusy):
		return http.StatusConflict, ErrorResponse{Error: "Please wait for the current response to finish.", Kind: KindConflict}
	case errors.Is(err, tutor.ErrNoActiveSession):
		return http.StatusConflict, ErrorResponse{Error: "There is no active session. Start one first.", Kind: KindConflict}
	case errors.Is(err, tutor.ErrSessionActive):
		return http.StatusConflict, ErrorResponse{Error: "A session is already active in this tab.", Kind: KindConflict}
	case errors.Is(err, tutor.ErrSessionCompleted), errors.Is(err, store.ErrCompleted):
		return http.StatusConflict, ErrorResponse{Error: "This session has already ended.", Kind: KindConflict}
	case errors.Is(err, tutor.ErrQuotaExceeded):
		return http.StatusTooManyRequests, ErrorResponse{Error: "You have reached your daily session limit. Upgrade your plan to continue.", Kind: KindQuota}
	case errors.Is(err, tutor.ErrNotOwner), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "Session not found.", Kind: KindNotFound}
	case errors.Is(err, genai.ErrBackend), errors.Is(err, genai.ErrContract):
		msg, ok := backendMessages[op]
		if !ok {
			msg = "The AI model is unavailable. Please try again."
		}
		return http.StatusBadGateway, ErrorResponse{Error: msg, Kind: KindBackend}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Kind: KindInternal}
	}
}

// fail logs err and writes the classified response.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, body := classify(op, err)
	attrs := []any{
		"op", op,
		"status", status,
		"error", err,
		"user_id", identity.UserIDFromContext(r.Context()),
		"session_id", identity.SessionIDFromContext(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", attrs...)
	} else {
		slog.Info("Request rejected", attrs...)
	}
	JSON(w, status, body)
}

// decode reads a JSON body bounded by maxBody. Empty bodies decode to the zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		return false
	}
	Error(w, http.StatusBadRequest, "invalid request body")
	return false
}

// allow applies the per-learner rate limit to model-backed operations.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	userID := identity.UserIDFromContext(r.Context())
	if h.limiter.Allow(userID) {
		return true
	}
	slog.Warn("Rate limit exceeded", "user_id", userID)
	JSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Kind: KindRateLimit})
	return false
}

func keyFromRequest(r *http.Request) tutor.Key {
	return tutor.Key{
		UserID: identity.UserIDFromContext(r.Context()),
		TabID:  identity.SessionIDFromContext(r.Context()),
	}
}
