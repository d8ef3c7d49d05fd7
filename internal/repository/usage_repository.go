package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository persists per-tenant send counters, bucketed by UTC calendar
// day and by top-of-hour. Rows are never deleted here; retention is external.
type UsageRepository struct {
	db *pgxpool.Pool
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

// Increment upsert-adds n to both period buckets. The ON CONFLICT add keeps
// concurrent senders for the same tenant safe without application locking.
func (r *UsageRepository) Increment(ctx context.Context, tenantID string, day, hour time.Time, n int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tenant_daily_usage (tenant_id, usage_date, sends_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, usage_date)
		DO UPDATE SET sends_count = tenant_daily_usage.sends_count + $3
	`, tenantID, day.Format("2006-01-02"), n)
	if err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO tenant_hourly_usage (tenant_id, usage_hour, sends_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, usage_hour)
		DO UPDATE SET sends_count = tenant_hourly_usage.sends_count + $3
	`, tenantID, hour, n)
	if err != nil {
		return fmt.Errorf("increment hourly usage: %w", err)
	}
	return nil
}

// DailyCount returns the tenant's send count for one calendar day.
func (r *UsageRepository) DailyCount(ctx context.Context, tenantID string, day time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT sends_count FROM tenant_daily_usage
		WHERE tenant_id = $1 AND usage_date = $2
	`, tenantID, day.Format("2006-01-02")).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query daily usage: %w", err)
	}
	return count, nil
}

// HourlyCount returns the tenant's send count for one hour bucket.
func (r *UsageRepository) HourlyCount(ctx context.Context, tenantID string, hour time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT sends_count FROM tenant_hourly_usage
		WHERE tenant_id = $1 AND usage_hour = $2
	`, tenantID, hour).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query hourly usage: %w", err)
	}
	return count, nil
}
