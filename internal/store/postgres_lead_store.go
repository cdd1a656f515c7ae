package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dunamismax/badgeflow/internal/domain"
)

const leadSchemaSQL = `
CREATE TABLE IF NOT EXISTS leads (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	company TEXT NOT NULL,
	designation TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	delivered_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS leads_email_idx ON leads (email);
`

type PostgresLeadStore struct {
	db *sql.DB
}

func NewPostgresLeadStore(ctx context.Context, dsn string) (*PostgresLeadStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresLeadStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresLeadStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, leadSchemaSQL); err != nil {
		return fmt.Errorf("ensure leads schema: %w", err)
	}
	return nil
}

func (s *PostgresLeadStore) Close() error {
	return s.db.Close()
}

func (s *PostgresLeadStore) Create(ctx context.Context, lead domain.Lead) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO leads (id, session_id, name, email, company, designation, status, attempts, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		lead.ID,
		lead.SessionID,
		lead.Profile.Name,
		lead.Profile.Email,
		lead.Profile.Company,
		lead.Profile.Designation,
		lead.Status,
		lead.Attempts,
		lead.LastError,
		lead.CreatedAt,
		lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (s *PostgresLeadStore) Get(ctx context.Context, id string) (domain.Lead, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, session_id, name, email, company, designation, status, attempts, last_error, created_at, updated_at, delivered_at
		 FROM leads
		 WHERE id = $1`,
		id,
	)

	var (
		lead        domain.Lead
		deliveredAt sql.NullTime
	)
	if err := row.Scan(
		&lead.ID,
		&lead.SessionID,
		&lead.Profile.Name,
		&lead.Profile.Email,
		&lead.Profile.Company,
		&lead.Profile.Designation,
		&lead.Status,
		&lead.Attempts,
		&lead.LastError,
		&lead.CreatedAt,
		&lead.UpdatedAt,
		&deliveredAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Lead{}, false, nil
		}
		return domain.Lead{}, false, fmt.Errorf("query lead: %w", err)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		lead.DeliveredAt = &t
	}
	return lead, true, nil
}

func (s *PostgresLeadStore) RecordAttempt(ctx context.Context, id, status string, attempts int, lastErr string) (domain.Lead, error) {
	now := time.Now().UTC()
	var deliveredAt sql.NullTime
	if status == domain.LeadStatusDelivered {
		deliveredAt = sql.NullTime{Time: now, Valid: true}
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE leads
		 SET status = $1, attempts = attempts + $2, last_error = $3, updated_at = $4,
		     delivered_at = COALESCE($5, delivered_at)
		 WHERE id = $6`,
		status,
		attempts,
		lastErr,
		now,
		deliveredAt,
		id,
	)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Lead{}, ErrLeadNotFound
	}

	lead, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if !ok {
		return domain.Lead{}, ErrLeadNotFound
	}
	return lead, nil
}
