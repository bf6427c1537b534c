package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teecode611-cmyk/studio/internal/domain"
	"github.com/teecode611-cmyk/studio/internal/identity"
)

// AccountHandler handles learner account endpoints.
type AccountHandler struct {
	*Handler
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(base *Handler) *AccountHandler {
	return &AccountHandler{Handler: base}
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Put("/me/plan", h.UpdatePlan)
		r.Get("/config", h.GetConfig)
	})
}

type meResponse struct {
	UserID         string      `json:"user_id"`
	Username       string      `json:"username"`
	Plan           domain.Plan `json:"plan"`
	DailySessions  int         `json:"daily_sessions"`
	RemainingToday int         `json:"remaining_today"`
	SessionID      string      `json:"session_id"`
}

// GetMe returns the current learner's information.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	started, err := h.repo.CountSessionsSince(r.Context(), userID, domain.StartOfDay(time.Now()))
	if err != nil {
		fail(w, r, "me", err)
		return
	}

	JSON(w, http.StatusOK, meResponse{
		UserID:         user.UserID,
		Username:       user.Username,
		Plan:           user.Plan,
		DailySessions:  user.Plan.DailySessions(),
		RemainingToday: user.RemainingSessions(started),
		SessionID:      identity.SessionIDFromContext(r.Context()),
	})
}

type planRequest struct {
	Plan string `json:"plan"`
}

// UpdatePlan switches the learner's plan. No payment is involved.
func (h *AccountHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !h.decode(w, r, &req) {
		return
	}
	plan, err := domain.ParsePlan(req.Plan)
	if err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: "plan must be one of free, basic, premium", Kind: KindValidation, Field: "plan"})
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	if err := h.repo.UpdatePlan(r.Context(), userID, plan); err != nil {
		fail(w, r, "update_plan", err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"plan":           plan,
		"daily_sessions": plan.DailySessions(),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *AccountHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.info)
}
