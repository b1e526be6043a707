package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists sessions and applications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the sessions and applications tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS applications (
			id      VARCHAR(36) PRIMARY KEY,
			status  VARCHAR(20) NOT NULL DEFAULT 'PENDING'
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id                VARCHAR(36) PRIMARY KEY,
			application_id    VARCHAR(36) NOT NULL REFERENCES applications(id),
			status            VARCHAR(20) NOT NULL DEFAULT 'IN_PROGRESS'
				CHECK (status IN ('IN_PROGRESS', 'COMPLETED', 'TERMINATED')),
			warning_count     INT NOT NULL DEFAULT 0,
			terminated_reason TEXT,
			start_time        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			end_time          TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_application
			ON sessions (application_id);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, application_id, status, warning_count, start_time)
		VALUES ($1, $2, $3, $4, $5)
	`,
		sess.ID,
		sess.ApplicationID,
		string(sess.Status),
		sess.WarningCount,
		sess.StartTime,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var reason sql.NullString
	var endTime sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, application_id, status, warning_count, terminated_reason, start_time, end_time
		FROM sessions
		WHERE id = $1
	`, id).Scan(&sess.ID, &sess.ApplicationID, &sess.Status, &sess.WarningCount, &reason, &sess.StartTime, &endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if reason.Valid {
		sess.TerminatedReason = reason.String
	}
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	return &sess, nil
}

// AddWarnings is a single conditional UPDATE so two concurrent batches
// can't both read count 3 and write 4 — the database serializes the
// increments and each caller sees its own post-increment value.
func (s *PostgresStore) AddWarnings(ctx context.Context, id string, delta int) (int, bool, error) {
	var newCount int
	err := s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET warning_count = warning_count + $2
		WHERE id = $1 AND status = 'IN_PROGRESS'
		RETURNING warning_count
	`, id, delta).Scan(&newCount)
	if errors.Is(err, sql.ErrNoRows) {
		// Either missing or terminal; distinguish for the caller.
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return 0, false, getErr
		}
		return existing.WarningCount, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to add warnings: %w", err)
	}
	return newCount, true, nil
}

// Terminate applies the session transition and the application REJECTED
// cascade in one transaction — both succeed or both fail.
func (s *PostgresStore) Terminate(ctx context.Context, id, reason string, endTime time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var applicationID string
	err = tx.QueryRowContext(ctx, `
		UPDATE sessions
		SET status = 'TERMINATED', terminated_reason = $2, end_time = $3
		WHERE id = $1 AND status = 'IN_PROGRESS'
		RETURNING application_id
	`, id, reason, endTime).Scan(&applicationID)
	if errors.Is(err, sql.ErrNoRows) {
		// Already terminal (or missing) — no-op by contract.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE applications SET status = 'REJECTED' WHERE id = $1
	`, applicationID); err != nil {
		return false, fmt.Errorf("failed to reject application: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit termination: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, endTime time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'COMPLETED', end_time = $2
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`, id, endTime)
	if err != nil {
		return false, fmt.Errorf("failed to complete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) CreateApplication(ctx context.Context, a *Application) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (id, status) VALUES ($1, $2)
	`, a.ID, string(a.Status))
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, id string) (*Application, error) {
	var app Application
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status FROM applications WHERE id = $1
	`, id).Scan(&app.ID, &app.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return &app, nil
}
