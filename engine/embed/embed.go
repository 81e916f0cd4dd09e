// Package embed turns a batch of texts into embedding vectors through a
// Provider, all or nothing.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/pkg/fn"
)

// Provider embeds a single text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures an Orchestrator.
type Options struct {
	// Workers bounds the number of provider calls in flight.
	Workers int
	// CallTimeout bounds each provider call. Zero disables the bound.
	CallTimeout time.Duration
	// ProviderName labels errors raised by the orchestrator itself.
	ProviderName string
}

// DefaultOptions returns 4 workers and a 30s per-call timeout.
func DefaultOptions() Options {
	return Options{Workers: 4, CallTimeout: 30 * time.Second, ProviderName: "embedding"}
}

// Orchestrator fans a batch out to a Provider.
type Orchestrator struct {
	provider Provider
	opts     Options
	logger   *slog.Logger
}

// New creates an Orchestrator. A nil logger uses slog.Default().
func New(provider Provider, opts Options, logger *slog.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.ProviderName == "" {
		opts.ProviderName = def.ProviderName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{provider: provider, opts: opts, logger: logger}
}

// EmbedTexts returns one vector per text, in input order. Any failed or
// malformed call fails the whole batch, cancels calls still in flight and
// returns no vectors. An empty batch makes no provider calls.
func (o *Orchestrator) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()

	vecs, err := fn.ParMapCtx(ctx, texts, o.opts.Workers, o.embedOne)
	if err != nil {
		o.logger.Warn("embedding batch failed", "texts", len(texts), "err", err)
		return nil, err
	}
	if err := sameLength(vecs); err != nil {
		return nil, &domain.ProviderError{Provider: o.opts.ProviderName, Op: "embed", Detail: "malformed embedding", Wrapped: err}
	}

	o.logger.Debug("embedded batch", "texts", len(texts), "dim", len(vecs[0]), "duration", time.Since(start))
	return vecs, nil
}

// EmbedQuery embeds a single query text.
func (o *Orchestrator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *Orchestrator) embedOne(ctx context.Context, i int, text string) ([]float32, error) {
	callCtx := ctx
	if o.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.CallTimeout)
		defer cancel()
	}

	vec, err := o.provider.Embed(callCtx, text)
	if err != nil {
		if ctx.Err() != nil || domain.IsProvider(err) {
			return nil, err
		}
		pe := domain.NewProviderError(o.opts.ProviderName, "embed", err)
		if errors.Is(err, context.DeadlineExceeded) {
			pe.Detail = fmt.Sprintf("text %d timed out after %s", i, o.opts.CallTimeout)
		}
		return nil, pe
	}
	if len(vec) == 0 {
		return nil, &domain.ProviderError{Provider: o.opts.ProviderName, Op: "embed", Detail: fmt.Sprintf("malformed embedding for text %d", i), Wrapped: domain.ErrEmptyVector}
	}
	return vec, nil
}

func sameLength(vecs [][]float32) error {
	for i, v := range vecs {
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("vector %d has length %d, vector 0 has %d", i, len(v), len(vecs[0]))
		}
	}
	return nil
}
