package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"disparador/internal/entities"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// ByWhatsApp resolves a phone-like subject to its registered account,
// or nil when unknown.
func (r *UserRepository) ByWhatsApp(ctx context.Context, whatsapp string) (*entities.User, error) {
	user := &entities.User{}
	var email, tenantID *string
	err := r.db.QueryRow(ctx, `
		SELECT id, whatsapp, email, tenant_id, role FROM users WHERE whatsapp = $1 LIMIT 1
	`, whatsapp).Scan(&user.ID, &user.WhatsApp, &email, &tenantID, &user.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user by whatsapp: %w", err)
	}
	if email != nil {
		user.Email = *email
	}
	if tenantID != nil {
		user.TenantID = *tenantID
	}
	return user, nil
}
