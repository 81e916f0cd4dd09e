package resilience

import (
	"context"
	"fmt"
)

// Policy runs calls through an optional limiter and breaker, in that order.
type Policy struct {
	Limiter *Limiter
	Breaker *Breaker
}

// Do waits for a rate token, then calls f through the breaker. A failed
// wait is reported as ErrRateLimited wrapping the context error.
func (p Policy) Do(ctx context.Context, f func(context.Context) error) error {
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
	}
	if p.Breaker == nil {
		return f(ctx)
	}
	return p.Breaker.Call(ctx, f)
}
