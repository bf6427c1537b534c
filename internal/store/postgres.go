package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/teecode611-cmyk/studio/internal/domain"
	"github.com/teecode611-cmyk/studio/internal/shared"
)

// PostgresStore implements Repository on PostgreSQL with JSONB message lists.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgres connects to databaseURL and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{db: db}
	if err := store.ensureTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) ensureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tutor_users (
			user_id      TEXT PRIMARY KEY,
			username     TEXT NOT NULL,
			plan         TEXT NOT NULL DEFAULT 'free',
			last_seen_at TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tutor_sessions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			problem       TEXT NOT NULL,
			topic         TEXT NOT NULL,
			messages      JSONB NOT NULL DEFAULT '[]',
			progress      TEXT NOT NULL DEFAULT '',
			key_learnings JSONB NOT NULL DEFAULT '[]',
			summary       TEXT NOT NULL DEFAULT '',
			completed     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tutor_sessions_user_created ON tutor_sessions(user_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type userRow struct {
	UserID     string    `db:"user_id"`
	Username   string    `db:"username"`
	Plan       string    `db:"plan"`
	LastSeenAt time.Time `db:"last_seen_at"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type sessionRow struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	Problem      string    `db:"problem"`
	Topic        string    `db:"topic"`
	Messages     string    `db:"messages"`
	Progress     string    `db:"progress"`
	KeyLearnings string    `db:"key_learnings"`
	Summary      string    `db:"summary"`
	Completed    bool      `db:"completed"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r sessionRow) toDomain() (*domain.Session, error) {
	session := &domain.Session{
		ID:        r.ID,
		UserID:    r.UserID,
		Problem:   r.Problem,
		Topic:     r.Topic,
		Progress:  r.Progress,
		Summary:   r.Summary,
		Completed: r.Completed,
		Timestamp: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Messages), &session.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal([]byte(r.KeyLearnings), &session.KeyLearnings); err != nil {
		return nil, fmt.Errorf("decode key learnings: %w", err)
	}
	return session, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		`SELECT user_id, username, plan, last_seen_at, created_at, updated_at
		 FROM tutor_users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &domain.User{
		UserID:     row.UserID,
		Username:   row.Username,
		Plan:       domain.Plan(row.Plan),
		LastSeenAt: row.LastSeenAt,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// UpsertUser creates or updates a user record.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *domain.User) error {
	plan := user.Plan
	if plan == "" {
		plan = domain.PlanFree
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tutor_users (user_id, username, plan, last_seen_at, created_at, updated_at)
		VALUES (:user_id, :username, :plan, :last_seen_at, :created_at, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.updated_at`,
		userRow{
			UserID:     user.UserID,
			Username:   user.Username,
			Plan:       string(plan),
			LastSeenAt: user.LastSeenAt,
			CreatedAt:  user.CreatedAt,
			UpdatedAt:  user.UpdatedAt,
		})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *PostgresStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tutor_users SET last_seen_at = $1, updated_at = NOW() WHERE user_id = $2`,
		lastSeen, userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	return nil
}

// UpdatePlan changes the user's subscription plan.
func (s *PostgresStore) UpdatePlan(ctx context.Context, userID string, plan domain.Plan) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tutor_users SET plan = $1, updated_at = NOW() WHERE user_id = $2`,
		string(plan), userID)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

// CreateSession stores a new session document.
func (s *PostgresStore) CreateSession(ctx context.Context, session *domain.Session) error {
	messagesJSON, err := json.Marshal(nonNilMessages(session.Messages))
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	learningsJSON, err := json.Marshal(nonNilStrings(session.KeyLearnings))
	if err != nil {
		return fmt.Errorf("encode key learnings: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO tutor_sessions (
			id, user_id, problem, topic, messages, progress,
			key_learnings, summary, completed, created_at, updated_at
		) VALUES (
			:id, :user_id, :problem, :topic, :messages, :progress,
			:key_learnings, :summary, :completed, :created_at, :updated_at
		)`,
		sessionRow{
			ID:           session.ID,
			UserID:       session.UserID,
			Problem:      session.Problem,
			Topic:        session.Topic,
			Messages:     string(messagesJSON),
			Progress:     session.Progress,
			KeyLearnings: string(learningsJSON),
			Summary:      session.Summary,
			Completed:    session.Completed,
			CreatedAt:    session.Timestamp,
			UpdatedAt:    session.UpdatedAt,
		})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const pgSessionColumns = `id, user_id, problem, topic, messages, progress,
	key_learnings, summary, completed, created_at, updated_at`

// GetSession retrieves a session document.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+pgSessionColumns+` FROM tutor_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toDomain()
}

// AppendMessages appends messages to the document's message list.
func (s *PostgresStore) AppendMessages(ctx context.Context, id string, msgs ...domain.Message) error {
	return s.AppendTurn(ctx, id, "", msgs...)
}

// AppendTurn appends messages and optionally replaces the progress checklist
// in one transaction.
func (s *PostgresStore) AppendTurn(ctx context.Context, id string, progress string, msgs ...domain.Message) error {
	if len(msgs) == 0 && progress == "" {
		return nil
	}
	return s.withSessionTx(ctx, id, "append turn", func(tx *sqlx.Tx, current *domain.Session) error {
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
			`UPDATE tutor_sessions SET messages = $1, progress = $2, updated_at = NOW() WHERE id = $3`,
			string(encoded), next, id)
		return err
	})
}

// CompleteSession sets the summary and marks the document completed.
func (s *PostgresStore) CompleteSession(ctx context.Context, id string, summary string, keyLearnings []string) error {
	learningsJSON, err := json.Marshal(nonNilStrings(keyLearnings))
	if err != nil {
		return fmt.Errorf("encode key learnings: %w", err)
	}
	return s.withSessionTx(ctx, id, "complete session", func(tx *sqlx.Tx, _ *domain.Session) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE tutor_sessions SET summary = $1, key_learnings = $2, completed = TRUE, updated_at = NOW()
			 WHERE id = $3`, summary, string(learningsJSON), id)
		return err
	})
}

// withSessionTx locks the document row for the duration of fn.
func (s *PostgresStore) withSessionTx(ctx context.Context, id, op string, fn func(tx *sqlx.Tx, current *domain.Session) error) error {
	return shared.RetryOnConflict(ctx, op, shared.DefaultRetryPolicy, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		var row sessionRow
		err = tx.GetContext(ctx, &row, `SELECT `+pgSessionColumns+` FROM tutor_sessions WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		current, err := row.toDomain()
		if err != nil {
			return err
		}
		if current.Completed {
			return fmt.Errorf("%w: %s", ErrCompleted, id)
		}

		if err := fn(tx, current); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return tx.Commit()
	})
}

// ListSessions returns a user's documents, most recent first.
func (s *PostgresStore) ListSessions(ctx context.Context, userID string, q SessionQuery) ([]*domain.Session, error) {
	query := `SELECT ` + pgSessionColumns + ` FROM tutor_sessions WHERE user_id = $1`
	args := []any{userID}
	if q.CompletedOnly {
		query += ` AND completed`
	}
	if q.ExcludeID != "" {
		args = append(args, q.ExcludeID)
		query += fmt.Sprintf(` AND id <> $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	sessions := make([]*domain.Session, 0, len(rows))
	for _, row := range rows {
		session, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// CountSessionsSince counts documents the user created at or after since.
func (s *PostgresStore) CountSessionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM tutor_sessions WHERE user_id = $1 AND created_at >= $2`, userID, since); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
