package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"optout/internal/consent/models"
	"optout/pkg/platform/sentinel"
	"optout/pkg/platform/tx"
)

const foreignKeyViolation = "23503"

// PostgresStore persists decisions in PostgreSQL, joining a transaction carried in the context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *PostgresStore) Upsert(ctx context.Context, d *models.Decision) error {
	if d == nil {
		return fmt.Errorf("decision is required")
	}
	query := `
		INSERT INTO consent_decisions (id, patient_identifier, choice, channel, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (patient_identifier) DO UPDATE SET
			choice = EXCLUDED.choice,
			channel = EXCLUDED.channel,
			recorded_by = EXCLUDED.recorded_by,
			recorded_at = EXCLUDED.recorded_at
		RETURNING id
	`
	var storedID uuid.UUID
	err := s.execer(ctx).QueryRowContext(ctx, query,
		d.ID, d.PatientIdentifier, string(d.Choice), string(d.Channel), d.RecordedBy, d.RecordedAt,
	).Scan(&storedID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("patient %s missing: %w", d.PatientIdentifier, sentinel.ErrConflict)
		}
		return fmt.Errorf("upsert decision: %w", err)
	}
	d.ID = storedID
	return nil
}

func (s *PostgresStore) FindByIdentifier(ctx context.Context, identifier string) (*models.Decision, error) {
	query := `
		SELECT id, patient_identifier, choice, channel, recorded_by, recorded_at
		FROM consent_decisions
		WHERE patient_identifier = $1
	`
	var (
		d       models.Decision
		choice  string
		channel string
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, identifier).Scan(
		&d.ID, &d.PatientIdentifier, &choice, &channel, &d.RecordedBy, &d.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find decision: %w", err)
	}
	d.Choice = models.Choice(choice)
	d.Channel = models.Channel(channel)
	d.RecordedAt = d.RecordedAt.UTC()
	return &d, nil
}
