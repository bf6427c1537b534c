package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teecode611-cmyk/studio/internal/domain"
	"github.com/teecode611-cmyk/studio/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes read-modify-write of session documents to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		plan TEXT NOT NULL DEFAULT 'free',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		problem TEXT NOT NULL,
		topic TEXT NOT NULL,
		messages_json TEXT NOT NULL DEFAULT '[]',
		progress TEXT NOT NULL DEFAULT '',
		key_learnings_json TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON sessions(user_id, created_at DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, plan, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var plan string
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &plan, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.Plan = domain.Plan(plan)
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, plan, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	plan := user.Plan
	if plan == "" {
		plan = domain.PlanFree
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, string(plan),
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// UpdatePlan changes the user's subscription plan.
func (s *SQLiteStore) UpdatePlan(ctx context.Context, userID string, plan domain.Plan) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET plan = ?, updated_at = ? WHERE user_id = ?`,
		string(plan), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

// CreateSession stores a new session document.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	messagesJSON, err := json.Marshal(nonNilMessages(session.Messages))
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	learningsJSON, err := json.Marshal(nonNilStrings(session.KeyLearnings))
	if err != nil {
		return fmt.Errorf("encode key learnings: %w", err)
	}

	query := `
		INSERT INTO sessions (
			id, user_id, problem, topic, messages_json, progress,
			key_learnings_json, summary, completed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, "create session", shared.DefaultRetryPolicy, func() error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.UserID, session.Problem, session.Topic,
			string(messagesJSON), session.Progress, string(learningsJSON),
			session.Summary, session.Completed,
			session.Timestamp.UnixMilli(), session.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

const sessionColumns = `id, user_id, problem, topic, messages_json, progress,
	key_learnings_json, summary, completed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var messagesJSON, learningsJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&session.ID, &session.UserID, &session.Problem, &session.Topic,
		&messagesJSON, &session.Progress, &learningsJSON,
		&session.Summary, &session.Completed, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messagesJSON), &session.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal([]byte(learningsJSON), &session.KeyLearnings); err != nil {
		return nil, fmt.Errorf("decode key learnings: %w", err)
	}
	session.Timestamp = time.UnixMilli(createdAt).UTC()
	session.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &session, nil
}

// GetSession retrieves a session document.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

// AppendMessages appends messages to the document's message list.
func (s *SQLiteStore) AppendMessages(ctx context.Context, id string, msgs ...domain.Message) error {
	return s.AppendTurn(ctx, id, "", msgs...)
}

// AppendTurn appends messages and optionally replaces the progress checklist
// in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, progress string, msgs ...domain.Message) error {
	if len(msgs) == 0 && progress == "" {
		return nil
	}
	return shared.RetryOnConflict(ctx, "append turn", shared.DefaultRetryPolicy, func() error {
		return s.withSessionTx(ctx, id, func(tx *sql.Tx, current *domain.Session) error {
			merged, changed := mergeMessages(current.Messages, msgs)
			next := nextProgress(current.Progress, progress)
			if !changed && next == current.Progress {
				return nil
			}
			encoded, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("encode messages: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE sessions SET messages_json = ?, progress = ?, updated_at = ? WHERE id = ?`,
				string(encoded), next, time.Now().UnixMilli(), id)
			return err
		})
	})
}

// CompleteSession sets the summary and marks the document completed.
func (s *SQLiteStore) CompleteSession(ctx context.Context, id string, summary string, keyLearnings []string) error {
	learningsJSON, err := json.Marshal(nonNilStrings(keyLearnings))
	if err != nil {
		return fmt.Errorf("encode key learnings: %w", err)
	}
	return shared.RetryOnConflict(ctx, "complete session", shared.DefaultRetryPolicy, func() error {
		return s.withSessionTx(ctx, id, func(tx *sql.Tx, _ *domain.Session) error {
			_, err := tx.ExecContext(ctx,
				`UPDATE sessions SET summary = ?, key_learnings_json = ?, completed = 1, updated_at = ?
				 WHERE id = ?`,
				summary, string(learningsJSON), time.Now().UnixMilli(), id)
			return err
		})
	})
}

// withSessionTx loads the document inside a transaction and rejects writes to
// missing or completed documents before running fn.
func (s *SQLiteStore) withSessionTx(ctx context.Context, id string, fn func(tx *sql.Tx, current *domain.Session) error) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if current.Completed {
		return fmt.Errorf("%w: %s", ErrCompleted, id)
	}

	if err := fn(tx, current); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session update: %w", err)
	}
	return nil
}

// ListSessions returns a user's documents, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, q SessionQuery) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ?`
	args := []any{userID}
	if q.CompletedOnly {
		query += ` AND completed = 1`
	}
	if q.ExcludeID != "" {
		query += ` AND id != ?`
		args = append(args, q.ExcludeID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CountSessionsSince counts documents the user created at or after since.
func (s *SQLiteStore) CountSessionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND created_at >= ?`,
		userID, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func nonNilMessages(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return []domain.Message{}
	}
	return msgs
}

func nonNilStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
