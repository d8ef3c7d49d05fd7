package infrastructure

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoffDelay computes min(base*2^attempt, ceiling) with ±20% jitter and a
// 1s floor. Used for the restart-required auto-recreate path.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt))
	if exp > float64(ceiling) {
		exp = float64(ceiling)
	}
	jitter := exp * 0.2 * (rand.Float64()*2 - 1)
	d := time.Duration(exp + jitter)
	if d < time.Second {
		d = time.Second
	}
	return d
}
