package embed

import (
	"context"
	"errors"
	"time"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/pkg/resilience"
)

// Observer is told about every guarded provider call.
type Observer func(provider, op string, start time.Time, err error)

// Guarded is a Provider behind a rate limiter and a circuit breaker.
type Guarded struct {
	next   Provider
	name   string
	policy resilience.Policy
	obs    Observer
}

// Guard wraps p. Either b or l may be nil. Rejections by the breaker or an
// aborted limiter wait are reported as ProviderErrors; nothing is retried.
func Guard(p Provider, b *resilience.Breaker, l *resilience.Limiter) *Guarded {
	return &Guarded{next: p, name: NameOf(p), policy: resilience.Policy{Limiter: l, Breaker: b}}
}

// WithObserver sets the call observer and returns g.
func (g *Guarded) WithObserver(obs Observer) *Guarded {
	g.obs = obs
	return g
}

// Name returns the wrapped provider's name.
func (g *Guarded) Name() string { return g.name }

// Embed implements Provider.
func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var vec []float32
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		v, err := g.next.Embed(ctx, text)
		vec = v
		return err
	})
	if g.obs != nil {
		g.obs(g.name, "embed", start, err)
	}
	if err != nil {
		return nil, GuardError(g.name, "embed", err)
	}
	return vec, nil
}

// GuardError maps resilience rejections to ProviderErrors and passes
// other errors through.
func GuardError(provider, op string, err error) error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &domain.ProviderError{Provider: provider, Op: op, Detail: "circuit open", Wrapped: err}
	case errors.Is(err, resilience.ErrRateLimited) && !domain.IsProvider(err):
		return &domain.ProviderError{Provider: provider, Op: op, Detail: "rate limit wait aborted", Wrapped: err}
	}
	return err
}

// BreakerFailure is the breaker failure predicate for provider calls:
// only transient provider failures count.
func BreakerFailure(err error) bool {
	return domain.IsTransient(err)
}

// NameOf returns p.Name() when p has one, or "embedding".
func NameOf(p any) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "embedding"
}
