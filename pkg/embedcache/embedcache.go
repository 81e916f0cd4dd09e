// Package embedcache puts a Redis cache in front of an embedding provider.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL is used when Options.TTL is zero.
const DefaultTTL = 7 * 24 * time.Hour

// Embedder is the wrapped provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures a Provider.
type Options struct {
	// Model is part of the key so vectors from different models never mix.
	Model     string
	TTL       time.Duration
	KeyPrefix string
}

// Provider serves vectors from Redis and falls back to the wrapped
// provider on a miss. Redis errors count as misses.
type Provider struct {
	next   Embedder
	client *redis.Client
	opts   Options
	log    *slog.Logger
}

// New wraps next.
func New(next Embedder, client *redis.Client, opts Options, logger *slog.Logger) *Provider {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "brain:embed:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{next: next, client: client, opts: opts, log: logger}
}

// Name returns the wrapped provider's name.
func (p *Provider) Name() string {
	if n, ok := p.next.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "embedding"
}

// Key returns the cache key for text. Model and text are NUL separated
// so no two (model, text) pairs share a key.
func (p *Provider) Key(text string) string {
	sum := sha256.Sum256([]byte(p.opts.Model + "\x00" + text))
	return p.opts.KeyPrefix + hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text or computes and stores it.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := p.Key(text)

	if vec, ok := p.get(ctx, key); ok {
		return vec, nil
	}

	vec, err := p.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(vec); err == nil {
		if err := p.client.Set(ctx, key, raw, p.opts.TTL).Err(); err != nil {
			p.log.WarnContext(ctx, "embedcache: set failed", "err", err)
		}
	}
	return vec, nil
}

func (p *Provider) get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		p.log.WarnContext(ctx, "embedcache: get failed", "err", err)
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		p.log.WarnContext(ctx, "embedcache: dropping invalid entry", "key", key)
		p.client.Del(ctx, key)
		return nil, false
	}
	return vec, true
}

// Open connects to the Redis server at url ("redis://host:port/db").
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
