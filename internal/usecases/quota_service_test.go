package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"disparador/internal/entities"
)

type fakeTenantStore struct {
	limits map[string]*entities.TenantLimits
	err    error
}

func (f *fakeTenantStore) SendLimits(_ context.Context, tenantID string) (*entities.TenantLimits, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.limits[tenantID], nil
}

type memUsageStore struct {
	daily  map[string]int
	hourly map[string]int
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{daily: make(map[string]int), hourly: make(map[string]int)}
}

func (m *memUsageStore) Increment(_ context.Context, tenantID string, _, _ time.Time, n int) error {
	m.daily[tenantID] += n
	m.hourly[tenantID] += n
	return nil
}

func (m *memUsageStore) DailyCount(_ context.Context, tenantID string, _ time.Time) (int, error) {
	return m.daily[tenantID], nil
}

func (m *memUsageStore) HourlyCount(_ context.Context, tenantID string, _ time.Time) (int, error) {
	return m.hourly[tenantID], nil
}

func newTestQuota(limits map[string]*entities.TenantLimits) (*QuotaEngine, *memUsageStore) {
	usage := newMemUsageStore()
	return NewQuotaEngine(&fakeTenantStore{limits: limits}, usage, zap.NewNop()), usage
}

func TestCheckSendAllowsExactlyTheCeiling(t *testing.T) {
	tenant := uuid.NewString()
	q, _ := newTestQuota(map[string]*entities.TenantLimits{
		tenant: {TenantID: tenant, DailySendLimit: 3},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, q.CheckSend(ctx, tenant, 1), "send %d should be allowed", i+1)
		q.Increment(ctx, tenant, 1)
	}
	assert.False(t, q.CheckSend(ctx, tenant, 1), "send beyond the ceiling must be denied")
}

func TestTrialClampOverridesConfiguredLimits(t *testing.T) {
	tenant := uuid.NewString()
	q, usage := newTestQuota(map[string]*entities.TenantLimits{
		tenant: {TenantID: tenant, DailySendLimit: 1000, Plan: "trial", Status: "trial_active"},
	})
	ctx := context.Background()

	usage.hourly[tenant] = trialHourlyLimit
	assert.False(t, q.CheckSend(ctx, tenant, 1), "trial hourly clamp should apply despite the configured limit")

	usage.hourly[tenant] = 0
	usage.daily[tenant] = trialDailyLimit
	assert.False(t, q.CheckDaily(ctx, tenant, 1), "trial daily clamp should apply despite the configured limit")
}

func TestExpiredTrialUsesConfiguredLimits(t *testing.T) {
	tenant := uuid.NewString()
	q, usage := newTestQuota(map[string]*entities.TenantLimits{
		tenant: {TenantID: tenant, DailySendLimit: 1000, Plan: "trial", Status: "expired"},
	})
	ctx := context.Background()

	usage.daily[tenant] = trialDailyLimit
	assert.True(t, q.CheckSend(ctx, tenant, 1))
}

func TestUnscopedIdentitiesBypassQuota(t *testing.T) {
	q, usage := newTestQuota(nil)
	ctx := context.Background()

	assert.True(t, q.CheckSend(ctx, entities.SystemTenant, 1))
	assert.True(t, q.CheckSend(ctx, "not-a-uuid", 1))

	q.Increment(ctx, entities.SystemTenant, 1)
	assert.Empty(t, usage.daily, "unscoped sends must not be counted")
}

func TestUnknownTenantIsDenied(t *testing.T) {
	q, _ := newTestQuota(nil)
	assert.False(t, q.CheckSend(context.Background(), uuid.NewString(), 1))
}

func TestUsageSummary(t *testing.T) {
	tenant := uuid.NewString()
	q, usage := newTestQuota(map[string]*entities.TenantLimits{
		tenant: {TenantID: tenant, DailySendLimit: 200, InstanceLimit: 2},
	})
	usage.daily[tenant] = 42

	got, err := q.Usage(context.Background(), tenant, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.InstanceCount)
	assert.Equal(t, 2, got.InstanceLimit)
	assert.Equal(t, 42, got.DailySendCount)
	assert.Equal(t, 200, got.DailySendLimit)
}
