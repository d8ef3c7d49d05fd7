package usecases

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"disparador/internal/entities"
	"disparador/internal/interfaces"
)

// Trial subscriptions are clamped to fixed ceilings regardless of the
// tenant's configured limit.
const (
	trialDailyLimit    = 50
	trialHourlyLimit   = 10
	defaultHourlyLimit = 999999
)

// QuotaEngine enforces daily and hourly send ceilings per tenant. Periods are
// bucketed in UTC: calendar date for the day, top of the hour for the hour.
//
// Checks are advisory (check-then-act): a short race window can let limits be
// exceeded by up to one concurrent in-flight send. That is accepted rather
// than serialized away; the storage-level upsert-add keeps the counters
// themselves consistent.
type QuotaEngine struct {
	tenants interfaces.TenantStore
	usage   interfaces.UsageStore
	log     *zap.Logger
}

func NewQuotaEngine(tenants interfaces.TenantStore, usage interfaces.UsageStore, log *zap.Logger) *QuotaEngine {
	return &QuotaEngine{tenants: tenants, usage: usage, log: log}
}

// tenantScoped reports whether the scope identifies a real tenant. The
// administrative scope and non-UUID identities bypass quota entirely.
func tenantScoped(tenantID string) bool {
	if tenantID == "" || tenantID == entities.SystemTenant {
		return false
	}
	return uuid.Validate(tenantID) == nil
}

func dayBucket(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func hourBucket(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour)
}

// effectiveLimits applies the trial clamp to the configured ceilings.
func effectiveLimits(limits *entities.TenantLimits) (daily, hourly int) {
	daily = limits.DailySendLimit
	hourly = defaultHourlyLimit
	if limits.Plan == "trial" && limits.Status == "trial_active" {
		daily = trialDailyLimit
		hourly = trialHourlyLimit
	}
	return daily, hourly
}

// CheckDaily reports whether the tenant may send n more messages today.
func (q *QuotaEngine) CheckDaily(ctx context.Context, tenantID string, n int) bool {
	if !tenantScoped(tenantID) {
		return true
	}
	limits, err := q.tenants.SendLimits(ctx, tenantID)
	if err != nil || limits == nil {
		q.log.Warn("quota check failed, denying", zap.String("tenant", tenantID), zap.Error(err))
		return false
	}
	daily, _ := effectiveLimits(limits)

	count, err := q.usage.DailyCount(ctx, tenantID, dayBucket(time.Now()))
	if err != nil {
		q.log.Warn("daily usage read failed, denying", zap.String("tenant", tenantID), zap.Error(err))
		return false
	}
	return count+n <= daily
}

// CheckHourly reports whether the tenant may send n more messages this hour.
func (q *QuotaEngine) CheckHourly(ctx context.Context, tenantID string, n int) bool {
	if !tenantScoped(tenantID) {
		return true
	}
	limits, err := q.tenants.SendLimits(ctx, tenantID)
	if err != nil || limits == nil {
		q.log.Warn("quota check failed, denying", zap.String("tenant", tenantID), zap.Error(err))
		return false
	}
	_, hourly := effectiveLimits(limits)

	count, err := q.usage.HourlyCount(ctx, tenantID, hourBucket(time.Now()))
	if err != nil {
		q.log.Warn("hourly usage read failed, denying", zap.String("tenant", tenantID), zap.Error(err))
		return false
	}
	return count+n <= hourly
}

// CheckSend verifies both ceilings with a single limits read.
func (q *QuotaEngine) CheckSend(ctx context.Context, tenantID string, n int) bool {
	if !tenantScoped(tenantID) {
		return true
	}
	limits, err := q.tenants.SendLimits(ctx, tenantID)
	if err != nil || limits == nil {
		q.log.Warn("quota check failed, denying", zap.String("tenant", tenantID), zap.Error(err))
		return false
	}
	daily, hourly := effectiveLimits(limits)
	now := time.Now()

	count, err := q.usage.DailyCount(ctx, tenantID, dayBucket(now))
	if err != nil {
		q.log.Warn("daily usage read failed, denying", zap.String("tenant", tenantID), zap.Error(err))
		return false
	}
	if count+n > daily {
		return false
	}

	count, err = q.usage.HourlyCount(ctx, tenantID, hourBucket(now))
	if err != nil {
		q.log.Warn("hourly usage read failed, denying", zap.String("tenant", tenantID), zap.Error(err))
		return false
	}
	return count+n <= hourly
}

// Increment records n sends against the current day and hour buckets. Called
// only after a confirmed transport send; failures are logged, not surfaced,
// so a flaky counter store cannot fail a delivered message.
func (q *QuotaEngine) Increment(ctx context.Context, tenantID string, n int) {
	if !tenantScoped(tenantID) {
		return
	}
	now := time.Now()
	if err := q.usage.Increment(ctx, tenantID, dayBucket(now), hourBucket(now), n); err != nil {
		q.log.Error("usage increment failed", zap.String("tenant", tenantID), zap.Error(err))
	}
}

// Usage summarizes a tenant's current consumption against its ceilings.
func (q *QuotaEngine) Usage(ctx context.Context, tenantID string, instanceCount int) (*entities.TenantUsage, error) {
	limits, err := q.tenants.SendLimits(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if limits == nil {
		return &entities.TenantUsage{}, nil
	}
	count, err := q.usage.DailyCount(ctx, tenantID, dayBucket(time.Now()))
	if err != nil {
		return nil, err
	}
	daily, _ := effectiveLimits(limits)
	return &entities.TenantUsage{
		InstanceCount:  instanceCount,
		InstanceLimit:  limits.InstanceLimit,
		DailySendCount: count,
		DailySendLimit: daily,
	}, nil
}
