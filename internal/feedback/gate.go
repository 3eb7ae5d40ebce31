// Package feedback closes the quality loop: it evaluates recommendations,
// revises the worst performers with forced missed sources, and promotes
// sources whose forced inclusion measurably improved scores.
package feedback

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TokenGate budgets LLM token usage over a sliding 60-second window. Acquire
// blocks until the estimated tokens fit the window; Record settles the
// difference once actual usage is known, so sustained underestimates don't
// leak budget.
type TokenGate struct {
	limiter *rate.Limiter
}

// NewTokenGate creates a gate allowing tokensPerMin tokens per minute.
func NewTokenGate(tokensPerMin int) *TokenGate {
	return &TokenGate{
		limiter: rate.NewLimiter(rate.Limit(tokensPerMin)/60, tokensPerMin),
	}
}

// Acquire blocks until estimated tokens are available or ctx is canceled.
func (g *TokenGate) Acquire(ctx context.Context, estimated int) error {
	if estimated < 1 {
		estimated = 1
	}
	return g.limiter.WaitN(ctx, estimated)
}

// Record settles actual usage against the earlier estimate. Overruns are
// reserved against the window without blocking, delaying future acquires.
func (g *TokenGate) Record(estimated, actual int) {
	over := actual - estimated
	if over <= 0 {
		return
	}
	if over > g.limiter.Burst() {
		over = g.limiter.Burst()
	}
	g.limiter.ReserveN(time.Now(), over)
}
