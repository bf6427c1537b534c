// Package domain contains core domain types for the tutoring service.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Plan is a learner's subscription tier. It bounds how many sessions can be
// started per UTC day.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
)

// DailySessions returns how many sessions the plan allows per day.
func (p Plan) DailySessions() int {
	switch p {
	case PlanBasic:
		return 5
	case PlanPremium:
		return 8
	default:
		return 2
	}
}

// ParsePlan converts a plan name into a Plan.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanFree, PlanBasic, PlanPremium:
		return p, nil
	default:
		return "", fmt.Errorf("unknown plan %q", s)
	}
}

// User represents a learner.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Plan       Plan      `json:"plan"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RemainingSessions returns how many more sessions the user may start given
// the number already started today. Never negative.
func (u *User) RemainingSessions(startedToday int) int {
	left := u.Plan.DailySessions() - startedToday
	if left < 0 {
		return 0
	}
	return left
}

// StartOfDay returns UTC midnight for t. Daily quotas reset at this instant.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
