package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOtpCooldown = errors.New("otp_cooldown_active")
	ErrOtpBlocked  = errors.New("otp_request_blocked")
)

const (
	otpRequestCooldown  = 60 * time.Second
	otpRequestWindow    = 15 * time.Minute
	otpRequestsPerWin   = 5
	otpRequestBlockTime = 30 * time.Minute
)

// RedisOtpLimiter throttles passcode issuance per subject: a short cooldown
// between consecutive requests, and a block once the windowed count is
// exceeded. Redis being down fails open; issuance still has the attempt
// lockout behind it.
type RedisOtpLimiter struct {
	rdb *redis.Client
}

func NewRedisOtpLimiter(rdb *redis.Client) *RedisOtpLimiter {
	return &RedisOtpLimiter{rdb: rdb}
}

func (l *RedisOtpLimiter) CanRequest(ctx context.Context, subject string) error {
	if l.rdb == nil {
		return nil
	}
	blockKey := fmt.Sprintf("otp:block:%s", subject)
	coolKey := fmt.Sprintf("otp:cool:%s", subject)
	countKey := fmt.Sprintf("otp:count:%s", subject)

	if n, err := l.rdb.Exists(ctx, blockKey).Result(); err == nil && n > 0 {
		return ErrOtpBlocked
	}
	if n, err := l.rdb.Exists(ctx, coolKey).Result(); err == nil && n > 0 {
		return ErrOtpCooldown
	}

	count, err := l.rdb.Incr(ctx, countKey).Result()
	if err != nil {
		return nil
	}
	if count == 1 {
		l.rdb.Expire(ctx, countKey, otpRequestWindow)
	}
	if count > otpRequestsPerWin {
		l.rdb.Set(ctx, blockKey, "1", otpRequestBlockTime)
		return ErrOtpBlocked
	}

	l.rdb.Set(ctx, coolKey, "1", otpRequestCooldown)
	return nil
}
