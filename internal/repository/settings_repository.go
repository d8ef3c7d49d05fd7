package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"disparador/internal/entities"
)

type SettingsRepository struct {
	db *pgxpool.Pool
}

func NewSettingsRepository(db *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// OtpSettings reads the operator's OTP delivery configuration. A missing row
// yields zero-value settings (WhatsApp channel enabled by default).
func (r *SettingsRepository) OtpSettings(ctx context.Context) (*entities.OtpSettings, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `
		SELECT value FROM global_settings WHERE key = 'otp_config'
	`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return &entities.OtpSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query otp settings: %w", err)
	}

	settings := &entities.OtpSettings{}
	if err := json.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("decode otp settings: %w", err)
	}
	return settings, nil
}
