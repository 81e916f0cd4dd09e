package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyZeroValueCallsThrough(t *testing.T) {
	called := false
	if err := (Policy{}).Do(context.Background(), func(context.Context) error { called = true; return nil }); err != nil || !called {
		t.Fatalf("expected a plain call, err=%v called=%v", err, called)
	}
}

func TestPolicyLimiterWaitFailure(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	_ = l.Wait(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Policy{Limiter: l}.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrRateLimited) || called {
		t.Fatalf("expected ErrRateLimited without a call, got %v", err)
	}
}

func TestPolicyBreakerRejects(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	p := Policy{Limiter: NewLimiter(LimiterOpts{}), Breaker: b}
	_ = p.Do(context.Background(), failing)
	if err := p.Do(context.Background(), succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
