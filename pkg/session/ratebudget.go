package session

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitMode selects the token-bucket parameters for a session's rate
// budget (spec.md §4.B: "a token bucket parameterized by the configured
// rate-limit mode ∈ {aggressive, balanced, conservative}").
type RateLimitMode string

const (
	RateAggressive   RateLimitMode = "aggressive"
	RateBalanced     RateLimitMode = "balanced"
	RateConservative RateLimitMode = "conservative"
)

// rateBudget wraps golang.org/x/time/rate.Limiter, the standard
// token-bucket in the Go ecosystem — every outbound call consumes one
// token; wait blocks the caller until one is available, and the
// Session's flood_wait transition (session.go's applyErr) handles the
// server-advised hard pause separately from this budget.
type rateBudget struct {
	limiter *rate.Limiter
}

func newRateBudget(mode RateLimitMode) *rateBudget {
	rps, burst := ratesFor(mode)
	return &rateBudget{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func ratesFor(mode RateLimitMode) (rps float64, burst int) {
	switch mode {
	case RateAggressive:
		return 30, 60
	case RateConservative:
		return 3, 6
	case RateBalanced:
		fallthrough
	default:
		return 10, 20
	}
}

func (b *rateBudget) wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Tokens reports the limiter's current burst allowance. Nothing in the
// repository calls it, and metrics.Metrics.RateBudgetTokens is not fed
// from it.
func (b *rateBudget) Tokens() float64 {
	return b.limiter.Tokens()
}
