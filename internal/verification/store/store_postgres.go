package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"optout/internal/verification/models"
	"optout/pkg/platform/sentinel"
	"optout/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists patients in PostgreSQL. Writes join a transaction carried in
// the context when one is present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

const patientColumns = `
	id, identifier, given_name, family_name, date_of_birth, address_line, postcode, email, phone,
	validation_code_hash, validation_code_expires_on, validation_code_matched_on, decision_token_hash,
	retry_count, verify_failures, notification_preference, version, created_at, updated_at`

func (s *PostgresStore) FindByIdentifier(ctx context.Context, identifier string) (*models.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE identifier = $1`
	p, err := scanPatient(s.execer(ctx).QueryRowContext(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find patient: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *models.Patient) error {
	if p == nil {
		return fmt.Errorf("patient is required")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO patients (
			id, identifier, given_name, family_name, date_of_birth, address_line, postcode, email, phone,
			validation_code_hash, validation_code_expires_on, validation_code_matched_on, decision_token_hash,
			retry_count, verify_failures, notification_preference, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		p.ID,
		p.Identifier,
		p.Demographics.GivenName,
		p.Demographics.FamilyName,
		nullDate(p.Demographics.DateOfBirth),
		p.Demographics.AddressLine,
		p.Demographics.Postcode,
		p.Demographics.Email,
		p.Demographics.Phone,
		p.ValidationCodeHash,
		p.ValidationCodeExpiresOn,
		p.ValidationCodeMatchedOn,
		p.DecisionTokenHash,
		p.RetryCount,
		p.VerifyFailures,
		string(p.NotificationPreference),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create patient: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create patient: %w", err)
	}
	p.Version = 1
	return nil
}

// Update writes p if the stored version still equals p.Version, then advances it.
func (s *PostgresStore) Update(ctx context.Context, p *models.Patient) error {
	if p == nil {
		return fmt.Errorf("patient is required")
	}
	query := `
		UPDATE patients SET
			given_name = $3, family_name = $4, date_of_birth = $5, address_line = $6, postcode = $7,
			email = $8, phone = $9,
			validation_code_hash = $10, validation_code_expires_on = $11, validation_code_matched_on = $12,
			decision_token_hash = $13,
			retry_count = $14, verify_failures = $15, notification_preference = $16,
			updated_at = $17, version = version + 1
		WHERE id = $1 AND version = $2
	`
	exec := s.execer(ctx)
	res, err := exec.ExecContext(ctx, query,
		p.ID,
		p.Version,
		p.Demographics.GivenName,
		p.Demographics.FamilyName,
		nullDate(p.Demographics.DateOfBirth),
		p.Demographics.AddressLine,
		p.Demographics.Postcode,
		p.Demographics.Email,
		p.Demographics.Phone,
		p.ValidationCodeHash,
		p.ValidationCodeExpiresOn,
		p.ValidationCodeMatchedOn,
		p.DecisionTokenHash,
		p.RetryCount,
		p.VerifyFailures,
		string(p.NotificationPreference),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update patient rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := exec.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check patient: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("update patient: version %d is stale: %w", p.Version, sentinel.ErrConflict)
	}
	p.Version++
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (*models.Patient, error) {
	var (
		p          models.Patient
		dob        sql.NullTime
		expiresOn  sql.NullTime
		matchedOn  sql.NullTime
		preference string
	)
	err := row.Scan(
		&p.ID,
		&p.Identifier,
		&p.Demographics.GivenName,
		&p.Demographics.FamilyName,
		&dob,
		&p.Demographics.AddressLine,
		&p.Demographics.Postcode,
		&p.Demographics.Email,
		&p.Demographics.Phone,
		&p.ValidationCodeHash,
		&expiresOn,
		&matchedOn,
		&p.DecisionTokenHash,
		&p.RetryCount,
		&p.VerifyFailures,
		&preference,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dob.Valid {
		p.Demographics.DateOfBirth = dob.Time
	}
	p.ValidationCodeExpiresOn = timePtr(expiresOn)
	p.ValidationCodeMatchedOn = timePtr(matchedOn)
	p.NotificationPreference = models.NotificationPreference(preference)
	return &p, nil
}

func nullDate(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
