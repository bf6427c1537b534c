// Package identity resolves who is calling: an anonymous per-device learner
// identified by cookie, or a learner presenting a signed bearer token, plus
// the per-tab session the request belongs to.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/teecode611-cmyk/studio/internal/domain"
	"github.com/teecode611-cmyk/studio/internal/store"
)

const (
	AnonCookieName        = "tutor_anon_id"
	SessionHeaderName     = "X-Tutor-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
)

// ErrUnauthenticated is returned when a presented credential is not valid.
var ErrUnauthenticated = errors.New("authentication required")

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
	sessionIDKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	subjectPattern   = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Options configures Middleware.
type Options struct {
	// IsDev drops the Secure flag from the identity cookie.
	IsDev bool
	// JWTSecret enables HS256 bearer tokens. Empty means anonymous only.
	JWTSecret string
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithIdentity returns a context carrying the given learner and tab.
func WithIdentity(ctx context.Context, userID, username, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, usernameKey, username)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveUsername(userID string) string {
	if strings.HasPrefix(userID, "anon_") && len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	if userID == "" {
		return "anon-user"
	}
	return userID
}

// ensureUser creates the learner on first sight on the free plan and
// refreshes last-seen otherwise.
func ensureUser(ctx context.Context, repo store.Repository, userID, username string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	if user != nil {
		return repo.UpdateLastSeen(ctx, userID, now)
	}
	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   username,
		Plan:       domain.PlanFree,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(SessionQueryParam)
	}
	return sanitizeSessionID(sid)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// Middleware resolves the caller and the per-tab session ID. A bearer token,
// when present and JWTSecret is set, must be valid; otherwise the request is
// rejected with 401 so the client can re-authenticate. Requests without a
// token fall back to the anonymous device cookie.
func Middleware(repo store.Repository, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID, username string

			if token, ok := bearerToken(r); ok && opts.JWTSecret != "" {
				claims, err := ParseToken(token, opts.JWTSecret)
				if err != nil {
					slog.Warn("Rejected bearer token", "error", err, "remote_addr", r.RemoteAddr)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					_, _ = w.Write([]byte(`{"error":"authentication required","kind":"authentication"}`))
					return
				}
				userID = claims.Subject
				username = claims.Name
			} else {
				id, err := getOrCreateAnonID(w, r, opts.IsDev)
				if err != nil {
					http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
				userID = id
			}
			if username == "" {
				username = deriveUsername(userID)
			}

			if err := ensureUser(r.Context(), repo, userID, username); err != nil {
				slog.Error("Failed to initialize learner", "error", err, "user_id", userID)
				http.Error(w, `{"error":"failed to initialize learner"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithIdentity(r.Context(), userID, username, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
