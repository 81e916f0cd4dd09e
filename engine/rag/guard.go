package rag

import (
	"context"
	"time"

	"github.com/secondbrain/brain/engine/embed"
	"github.com/secondbrain/brain/pkg/resilience"
)

// Guarded is a Generator behind a rate limiter and a circuit breaker.
type Guarded struct {
	next   Generator
	name   string
	policy resilience.Policy
	obs    embed.Observer
}

// Guard wraps g the same way embed.Guard wraps an embedding provider.
func Guard(g Generator, b *resilience.Breaker, l *resilience.Limiter) *Guarded {
	return &Guarded{next: g, name: nameOf(g), policy: resilience.Policy{Limiter: l, Breaker: b}}
}

// WithObserver sets the call observer and returns g.
func (g *Guarded) WithObserver(obs embed.Observer) *Guarded {
	g.obs = obs
	return g
}

func (g *Guarded) Name() string { return g.name }

func (g *Guarded) Generate(ctx context.Context, prompt, model string) (string, error) {
	start := time.Now()
	var text string
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		t, err := g.next.Generate(ctx, prompt, model)
		text = t
		return err
	})
	if g.obs != nil {
		g.obs(g.name, "generate", start, err)
	}
	if err != nil {
		return "", embed.GuardError(g.name, "generate", err)
	}
	return text, nil
}
