// Package retrieve turns a natural-language query into the most similar
// stored chunks.
package retrieve

import (
	"context"
	"log/slog"
	"time"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/store"
	"github.com/secondbrain/brain/pkg/metrics"
)

// Default result counts for a plain search and for building a prompt.
const (
	DefaultSearchK  = 8
	DefaultContextK = 3
)

// QueryEmbedder embeds a single query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Service runs similarity searches.
type Service struct {
	embedder QueryEmbedder
	store    store.Store
	metrics  *metrics.Brain
	log      *slog.Logger
}

// New creates a Service. m may be nil.
func New(e QueryEmbedder, s store.Store, m *metrics.Brain, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embedder: e, store: s, metrics: m, log: logger}
}

// ClampK forces k into the accepted range.
func ClampK(k int) int { return domain.ClampK(k) }

// KOrDefault returns the clamped k, or def when k is nil.
func KOrDefault(k *int, def int) int {
	if k == nil {
		return def
	}
	return ClampK(*k)
}

// Search embeds query and returns up to k chunks in descending similarity.
// An empty result is not an error.
func (s *Service) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	q, err := domain.NormalizeQuery(query)
	if err != nil {
		return nil, err
	}
	k = ClampK(k)
	start := time.Now()

	vec, err := s.embedder.EmbedQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	results, err := s.store.SimilaritySearch(ctx, vec, k)
	if err != nil {
		if domain.IsValidation(err) || domain.IsConsistency(err) {
			return nil, err
		}
		return nil, domain.NewStoreError("similarity search", err)
	}
	if results == nil {
		results = []domain.SearchResult{}
	}

	attrs := []any{"k", k, "results", len(results), "duration", time.Since(start)}
	if len(results) > 0 {
		attrs = append(attrs, "top_similarity", results[0].Similarity)
	}
	s.log.InfoContext(ctx, "retrieve: search", attrs...)
	if s.metrics != nil {
		s.metrics.SearchDuration.Since(start)
		s.metrics.SearchResults.Observe(float64(len(results)))
	}
	return results, nil
}
