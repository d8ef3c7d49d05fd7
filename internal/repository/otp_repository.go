package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"disparador/internal/entities"
)

type OtpRepository struct {
	db *pgxpool.Pool
}

func NewOtpRepository(db *pgxpool.Pool) *OtpRepository {
	return &OtpRepository{db: db}
}

// Insert stores a freshly issued record. Only the hash ever reaches the row.
func (r *OtpRepository) Insert(ctx context.Context, rec *entities.OtpRecord) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO auth_otps (whatsapp, otp_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, rec.WhatsApp, rec.OtpHash, rec.ExpiresAt).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert otp record: %w", err)
	}
	return nil
}

// LatestBySubject returns the most recently issued record for a subject,
// or nil when none exists.
func (r *OtpRepository) LatestBySubject(ctx context.Context, whatsapp string) (*entities.OtpRecord, error) {
	rec := &entities.OtpRecord{}
	err := r.db.QueryRow(ctx, `
		SELECT id, whatsapp, otp_hash, expires_at, attempts, locked_until, used_at, created_at
		FROM auth_otps
		WHERE whatsapp = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, whatsapp).Scan(&rec.ID, &rec.WhatsApp, &rec.OtpHash, &rec.ExpiresAt,
		&rec.Attempts, &rec.LockedUntil, &rec.UsedAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest otp: %w", err)
	}
	return rec, nil
}

// MarkUsed closes the record. used_at transitions null -> set exactly once.
func (r *OtpRepository) MarkUsed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE auth_otps SET used_at = now() WHERE id = $1 AND used_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("mark otp used: %w", err)
	}
	return nil
}

// UpdateAttempts records a failed attempt and, at the ceiling, the lockout.
func (r *OtpRepository) UpdateAttempts(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE auth_otps SET attempts = $1, locked_until = $2 WHERE id = $3
	`, attempts, lockedUntil, id)
	if err != nil {
		return fmt.Errorf("update otp attempts: %w", err)
	}
	return nil
}
