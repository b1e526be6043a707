package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists event batches in PostgreSQL. The event array is
// stored as JSONB alongside the derived risk score, one row per batch.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed batch store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the event_batches table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS event_batches (
			id           VARCHAR(36) PRIMARY KEY,
			session_id   VARCHAR(36) NOT NULL,
			events       JSONB NOT NULL DEFAULT '[]',
			risk_score   INT NOT NULL CHECK (risk_score >= 0 AND risk_score <= 100),
			received_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_event_batches_session
			ON event_batches (session_id, received_at);
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, batch *Batch) error {
	eventsJSON, err := json.Marshal(batch.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_batches (id, session_id, events, risk_score, received_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		batch.ID,
		batch.SessionID,
		eventsJSON,
		batch.RiskScore,
		batch.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record event batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, events, risk_score, received_at
		FROM event_batches
		WHERE session_id = $1
		ORDER BY received_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list event batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Batch
	for rows.Next() {
		var b Batch
		var eventsJSON []byte

		if err := rows.Scan(&b.ID, &b.SessionID, &eventsJSON, &b.RiskScore, &b.ReceivedAt); err != nil {
			continue
		}
		_ = json.Unmarshal(eventsJSON, &b.Events)
		result = append(result, &b)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM event_batches WHERE session_id = $1
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count event batches: %w", err)
	}
	return n, nil
}
