package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}

	// Auto-migrate schema
	if err := client.Migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (p *PostgresClient) Migrate() error {
	ctx := context.Background()

	// Tenants Table
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(100) NOT NULL,
			daily_send_limit INT NOT NULL DEFAULT 1000,
			instance_limit INT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("create tenants table: %w", err)
	}

	// Subscriptions Table (one active row per tenant; latest wins)
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id UUID NOT NULL REFERENCES tenants(id),
			plan VARCHAR(30) NOT NULL DEFAULT 'trial',
			status VARCHAR(30) NOT NULL DEFAULT 'trial_active',
			created_at TIMESTAMPTZ DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("create subscriptions table: %w", err)
	}

	// Users Table
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			whatsapp VARCHAR(32) UNIQUE NOT NULL,
			email VARCHAR(255),
			tenant_id UUID REFERENCES tenants(id),
			role VARCHAR(20) NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	// Usage counters. Upsert-incremented, never deleted by the application.
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenant_daily_usage (
			tenant_id UUID NOT NULL,
			usage_date DATE NOT NULL,
			sends_count INT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, usage_date)
		);
	`)
	if err != nil {
		return fmt.Errorf("create tenant_daily_usage table: %w", err)
	}

	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenant_hourly_usage (
			tenant_id UUID NOT NULL,
			usage_hour TIMESTAMPTZ NOT NULL,
			sends_count INT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, usage_hour)
		);
	`)
	if err != nil {
		return fmt.Errorf("create tenant_hourly_usage table: %w", err)
	}

	// OTP records. Physical deletion is a retention concern, not ours.
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS auth_otps (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			whatsapp VARCHAR(32) NOT NULL,
			otp_hash VARCHAR(255) NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			locked_until TIMESTAMPTZ,
			used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_auth_otps_whatsapp ON auth_otps (whatsapp, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("create auth_otps table: %w", err)
	}

	// Operator-managed settings (otp_config lives here)
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS global_settings (
			key VARCHAR(50) PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("create global_settings table: %w", err)
	}

	// Seed a first tenant on an empty install
	_, err = p.Pool.Exec(ctx, `
		INSERT INTO tenants (name)
		SELECT 'default' WHERE NOT EXISTS (SELECT 1 FROM tenants);
	`)
	if err != nil {
		return fmt.Errorf("seed default tenant: %w", err)
	}

	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
