package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"disparador/internal/entities"
)

type TenantRepository struct {
	db *pgxpool.Pool
}

func NewTenantRepository(db *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{db: db}
}

// SendLimits returns the tenant's configured ceilings joined with its most
// recent subscription. Unknown tenants return nil.
func (r *TenantRepository) SendLimits(ctx context.Context, tenantID string) (*entities.TenantLimits, error) {
	limits := &entities.TenantLimits{TenantID: tenantID}
	err := r.db.QueryRow(ctx, `
		SELECT t.daily_send_limit, t.instance_limit, COALESCE(s.plan, ''), COALESCE(s.status, '')
		FROM tenants t
		LEFT JOIN subscriptions s ON t.id = s.tenant_id
		WHERE t.id = $1
		ORDER BY s.created_at DESC LIMIT 1
	`, tenantID).Scan(&limits.DailySendLimit, &limits.InstanceLimit, &limits.Plan, &limits.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant limits: %w", err)
	}
	return limits, nil
}
