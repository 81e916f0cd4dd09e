package embedcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Name() string { return "counting" }

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 0.5}, nil
}

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	return mr, c
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHitAfterMiss(t *testing.T) {
	mr, c := setup(t)
	next := &countingEmbedder{}
	p := New(next, c, Options{Model: "m1", TTL: time.Hour}, quiet())
	ctx := context.Background()

	first, err := p.Embed(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Embed(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if next.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", next.calls)
	}
	if len(second) != 2 || second[0] != first[0] || second[1] != first[1] {
		t.Errorf("cached vector differs: %v vs %v", second, first)
	}
	if ttl := mr.TTL(p.Key("hello")); ttl != time.Hour {
		t.Errorf("ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := p.Embed(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if next.calls != 2 {
		t.Errorf("expected refetch after expiry, calls=%d", next.calls)
	}
}

func TestKeyIncludesModel(t *testing.T) {
	_, c := setup(t)
	a := New(&countingEmbedder{}, c, Options{Model: "a"}, quiet())
	b := New(&countingEmbedder{}, c, Options{Model: "b"}, quiet())
	if a.Key("x") == b.Key("x") {
		t.Error("keys for different models must differ")
	}
	if a.Key("x") != a.Key("x") {
		t.Error("key must be stable")
	}

	ab := New(&countingEmbedder{}, c, Options{Model: "ab"}, quiet())
	if a.Key("bc") == ab.Key("c") {
		t.Error("model and text boundary must be part of the key")
	}
}

func TestProviderErrorNotCached(t *testing.T) {
	mr, c := setup(t)
	boom := errors.New("boom")
	p := New(&countingEmbedder{err: boom}, c, Options{Model: "m"}, quiet())

	if _, err := p.Embed(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if mr.Exists(p.Key("x")) {
		t.Error("failed call must not be cached")
	}
}

func TestRedisDownIsMiss(t *testing.T) {
	mr, c := setup(t)
	next := &countingEmbedder{}
	p := New(next, c, Options{Model: "m"}, quiet())
	mr.Close()

	vec, err := p.Embed(context.Background(), "abc")
	if err != nil {
		t.Fatalf("redis failure must not fail the call: %v", err)
	}
	if len(vec) != 2 || next.calls != 1 {
		t.Errorf("vec=%v calls=%d", vec, next.calls)
	}
}

func TestInvalidEntryDropped(t *testing.T) {
	mr, c := setup(t)
	next := &countingEmbedder{}
	p := New(next, c, Options{Model: "m"}, quiet())
	mr.Set(p.Key("abc"), "not json")

	if _, err := p.Embed(context.Background(), "abc"); err != nil {
		t.Fatal(err)
	}
	if next.calls != 1 {
		t.Errorf("expected provider call, got %d", next.calls)
	}
	got, _ := mr.Get(p.Key("abc"))
	if got != "[3,0.5]" {
		t.Errorf("expected entry rewritten, got %q", got)
	}
}

func TestName(t *testing.T) {
	_, c := setup(t)
	if n := New(&countingEmbedder{}, c, Options{}, quiet()).Name(); n != "counting" {
		t.Errorf("name = %q", n)
	}
}
