// Package backend builds the services from configuration: the selected
// store, the provider behind its limiter, breaker and optional cache, and
// the ingest, retrieve and answer services on top.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/secondbrain/brain/engine/chunk"
	"github.com/secondbrain/brain/engine/embed"
	"github.com/secondbrain/brain/engine/graph"
	"github.com/secondbrain/brain/engine/ingest"
	"github.com/secondbrain/brain/engine/rag"
	"github.com/secondbrain/brain/engine/retrieve"
	"github.com/secondbrain/brain/engine/semantic"
	"github.com/secondbrain/brain/engine/store"
	"github.com/secondbrain/brain/engine/store/hybrid"
	"github.com/secondbrain/brain/engine/store/memory"
	"github.com/secondbrain/brain/engine/store/postgres"
	"github.com/secondbrain/brain/pkg/config"
	"github.com/secondbrain/brain/pkg/embedcache"
	"github.com/secondbrain/brain/pkg/fn"
	"github.com/secondbrain/brain/pkg/gemini"
	"github.com/secondbrain/brain/pkg/metrics"
	"github.com/secondbrain/brain/pkg/ollama"
	"github.com/secondbrain/brain/pkg/repo"
	"github.com/secondbrain/brain/pkg/resilience"
)

// Client is a provider that both embeds and generates.
type Client interface {
	embed.Provider
	rag.Generator
}

// Stack is everything a binary needs.
type Stack struct {
	Store     store.Backend
	Embedder  *embed.Orchestrator
	Generator rag.Generator
	Ingest    *ingest.Service
	Retrieve  *retrieve.Service
	RAG       *rag.Synthesizer
	Registry  *metrics.Registry
	Metrics   *metrics.Brain

	closers []func() error
}

// Build opens the configured store and provider and assembles the services.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	client, err := NewClient(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	return Assemble(ctx, cfg, st, client, logger)
}

// Assemble builds the services over an already opened store and client.
// The stack owns st and closes it in Close.
func Assemble(ctx context.Context, cfg config.Config, st store.Backend, client Client, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := metrics.New()
	m := metrics.NewBrain(reg)
	s := &Stack{Store: st, Registry: reg, Metrics: m, closers: []func() error{st.Close}}

	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.ProviderRPS, Burst: cfg.ProviderBurst})
	name := embed.NameOf(client)

	var provider embed.Provider = embed.Guard(client, s.breaker(cfg, m, name+"_embed"), limiter).WithObserver(m.ObserveProvider)
	if cfg.RedisURL != "" {
		rc, err := embedcache.Open(ctx, cfg.RedisURL)
		if err != nil {
			// The cache is optional; serve uncached.
			logger.WarnContext(ctx, "backend: redis unavailable, embedding cache disabled", "err", err)
		} else {
			s.closers = append(s.closers, rc.Close)
			provider = embedcache.New(provider, rc, embedcache.Options{Model: cfg.EmbedModel(), TTL: cfg.CacheTTL}, logger)
		}
	}

	s.Embedder = embed.New(provider, embed.Options{
		Workers:      cfg.EmbedWorkers,
		CallTimeout:  cfg.EmbedTimeout,
		ProviderName: name,
	}, logger)
	s.Generator = rag.Guard(client, s.breaker(cfg, m, name+"_generate"), limiter).WithObserver(m.ObserveProvider)

	ing, err := ingest.New(ingest.Deps{
		Store:    st,
		Embedder: s.Embedder,
		Chunking: chunk.Options{MaxChars: cfg.ChunkMaxChars, OverlapChars: cfg.ChunkOverlapChars},
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Ingest = ing
	s.Retrieve = retrieve.New(s.Embedder, st, m, logger)
	s.RAG = rag.New(s.Generator, s.Retrieve, cfg.GenModel(), logger)
	return s, nil
}

func (s *Stack) breaker(cfg config.Config, m *metrics.Brain, label string) *resilience.Breaker {
	m.SetBreakerState(label, int(resilience.StateClosed))
	return resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: cfg.BreakerThreshold,
		Timeout:       cfg.BreakerCooldown,
		IsFailure:     embed.BreakerFailure,
		OnStateChange: func(_, to resilience.State) { m.SetBreakerState(label, int(to)) },
	})
}

// Close releases the store and any cache connection.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// NewClient creates the configured provider client.
func NewClient(cfg config.Config) (Client, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return gemini.New(cfg.GeminiAPIKey, cfg.GeminiEmbedModel, cfg.GeminiGenModel, gemini.WithBaseURL(cfg.GeminiBaseURL)), nil
	case config.ProviderOllama:
		return ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, cfg.OllamaGenModel), nil
	}
	return nil, fmt.Errorf("backend: unknown provider %q", cfg.Provider)
}

// OpenStore opens and prepares the configured store. Connections are
// retried with fn.DefaultRetry so the services may start before their
// databases.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.WarnContext(ctx, "backend: using in-memory store, data is lost on exit")
		return memory.New(), nil
	case config.StorePostgres:
		pg, err := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) (*postgres.Store, error) {
			return postgres.Open(ctx, cfg.DatabaseURL)
		})
		if err != nil {
			return nil, fmt.Errorf("backend: postgres: %w", err)
		}
		if err := pg.Migrate(ctx, cfg.EmbedDim); err != nil {
			pg.Close()
			return nil, fmt.Errorf("backend: migrate: %w", err)
		}
		return pg, nil
	case config.StoreHybrid:
		return openHybrid(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("backend: unknown store %q", cfg.Store)
}

func openHybrid(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Backend, error) {
	vs, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("backend: qdrant: %w", err)
	}
	_, err = fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, vs.EnsureCollection(ctx, cfg.EmbedDim)
	})
	if err != nil {
		vs.Close()
		return nil, fmt.Errorf("backend: qdrant collection: %w", err)
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		vs.Close()
		return nil, fmt.Errorf("backend: neo4j driver: %w", err)
	}
	closeAll := func() error {
		return errors.Join(vs.Close(), driver.Close(context.Background()))
	}

	g := graph.New(repo.DriverSessions(driver, cfg.Neo4jDB))
	_, err = fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.EnsureSchema(ctx)
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("backend: neo4j schema: %w", err)
	}
	return hybrid.New(vs, g, logger, hybrid.WithCloser(closeAll)), nil
}
