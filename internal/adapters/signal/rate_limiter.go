package signal

import (
	"golang.org/x/time/rate"

	"github.com/dkeye/Relay/internal/config"
)

// newRequestLimiter returns the token bucket of one connection. A zero rate
// disables limiting.
func newRequestLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RPS <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RPS) + 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RPS), burst)
}
