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
	"time"

	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLite(dbPath)
}

func newSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers, immediate transactions so writers queue on busy_timeout.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
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
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		active_session_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		persona_json TEXT NOT NULL,
		history_json TEXT NOT NULL DEFAULT '[]',
		affinity INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);
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
		SELECT user_id, username, active_session_id, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var activeID sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &activeID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.ActiveSessionID = activeID.String
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record. The active session pointer is
// owned by the session operations and is left untouched here.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

const sessionColumns = `
	s.id, s.user_id, s.persona_json, s.history_json, s.affinity,
	s.created_at, s.updated_at, COALESCE(u.active_session_id = s.id, 0)`

const sessionFrom = `
	FROM sessions s LEFT JOIN users u ON u.user_id = s.user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var personaJSON, historyJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&session.ID, &session.UserID, &personaJSON, &historyJSON, &session.Affinity,
		&createdAt, &updatedAt, &session.Active,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(personaJSON), &session.Persona); err != nil {
		return nil, fmt.Errorf("decode persona of session %s: %w", session.ID, err)
	}
	var msgs []domain.StoredMessage
	if err := json.Unmarshal([]byte(historyJSON), &msgs); err != nil {
		return nil, fmt.Errorf("decode history of session %s: %w", session.ID, err)
	}
	session.History = domain.DecodeHistory(msgs)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

// GetSession retrieves one session owned by userID.
func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	query := `SELECT` + sessionColumns + sessionFrom + ` WHERE s.id = ? AND s.user_id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

// GetActiveSession retrieves the user's active session.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	query := `SELECT` + sessionColumns + sessionFrom + `
		WHERE u.user_id = ? AND s.id = u.active_session_id`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan active session: %w", err)
	}
	return session, nil
}

// ListSessions returns every session of a user, oldest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `SELECT` + sessionColumns + sessionFrom + `
		WHERE s.user_id = ? ORDER BY s.created_at, s.rowid`

	rows, err := s.db.QueryContext(ctx, query, userID)
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

// CreateSession inserts a session and optionally activates it atomically.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session, activate bool) error {
	personaJSON, err := json.Marshal(session.Persona)
	if err != nil {
		return fmt.Errorf("encode persona: %w", err)
	}
	historyJSON, err := json.Marshal(domain.EncodeHistory(session.History))
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	return shared.RetryOnConflict(ctx, "create session", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create session: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().Unix()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (user_id, username, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			session.UserID, session.UserID, now, now,
		); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, persona_json, history_json, affinity, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.UserID, string(personaJSON), string(historyJSON), session.Affinity,
			session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		if activate {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET active_session_id = ?, updated_at = ? WHERE user_id = ?`,
				session.ID, now, session.UserID,
			); err != nil {
				return fmt.Errorf("activate session: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit create session: %w", err)
		}
		session.Active = activate
		return nil
	})
}

// UpdateSession persists history and affinity of an existing session.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	historyJSON, err := json.Marshal(domain.EncodeHistory(session.History))
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	return shared.RetryOnConflict(ctx, "update session", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET history_json = ?, affinity = ?, updated_at = ?
			WHERE id = ? AND user_id = ?`,
			string(historyJSON), session.Affinity, session.UpdatedAt.Unix(),
			session.ID, session.UserID,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetActiveSession points the user's active session at sessionID.
// The ownership check and the pointer write happen in one statement.
func (s *SQLiteStore) SetActiveSession(ctx context.Context, userID, sessionID string) error {
	return shared.RetryOnConflict(ctx, "set active session", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE users SET active_session_id = ?, updated_at = ?
			WHERE user_id = ?
			  AND EXISTS (SELECT 1 FROM sessions WHERE id = ? AND user_id = ?)`,
			sessionID, time.Now().Unix(), userID, sessionID, userID,
		)
		if err != nil {
			return fmt.Errorf("set active session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Warn("SetActiveSession affected 0 rows", "user_id", userID, "session_id", sessionID)
			return ErrNotFound
		}
		return nil
	})
}

// ClearActiveSession leaves the user without an active session.
func (s *SQLiteStore) ClearActiveSession(ctx context.Context, userID string) error {
	return shared.RetryOnConflict(ctx, "clear active session", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE users SET active_session_id = NULL, updated_at = ? WHERE user_id = ?`,
			time.Now().Unix(), userID,
		)
		if err != nil {
			return fmt.Errorf("clear active session: %w", err)
		}
		return nil
	})
}

// DeleteSession removes a session permanently.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return shared.RetryOnConflict(ctx, "delete session", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete session: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		result, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET active_session_id = NULL, updated_at = ?
			WHERE user_id = ? AND active_session_id = ?`,
			time.Now().Unix(), userID, sessionID,
		); err != nil {
			return fmt.Errorf("clear deleted active session: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit delete session: %w", err)
		}
		return nil
	})
}
