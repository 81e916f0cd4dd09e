// Package rag assembles retrieved chunks into a grounding prompt and asks a
// generative model for the answer.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/secondbrain/brain/engine/domain"
)

// NotFoundMessage is returned instead of a generated answer when retrieval
// found nothing to ground it on.
const NotFoundMessage = "I couldn't find anything about that in your knowledge base."

const preamble = `You are a helpful assistant acting as a second brain for the user.
The user has provided the following context from their personal notes and documents (what they already know/have stored).
Your goal is to answer the user's question using *only* this information.

Instructions:
1. Treat the provided text as the user's own knowledge base.
2. Answer the question comprehensively using this knowledge.
3. If the answer is found in the notes, explain it clearly as if reminding the user of what they wrote/read.
4. If the answer is not in the notes, state that you couldn't find that specific information in their current knowledge base.

Context (User's Notes):
`

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// Searcher finds the chunks relevant to a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// Answer is the result of Ask.
type Answer struct {
	Text    string                `json:"answer"`
	Results []domain.SearchResult `json:"results"`
}

// Synthesizer builds prompts and calls the generator.
type Synthesizer struct {
	gen    Generator
	search Searcher
	model  string
	name   string
	log    *slog.Logger
}

// New creates a Synthesizer. search is only needed by PrepareContext and Ask.
func New(gen Generator, search Searcher, model string, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{gen: gen, search: search, model: model, name: nameOf(gen), log: logger}
}

// BuildContext renders results, in the order given, as labelled blocks
// followed by the grounding instructions and the query. With no results
// it returns NotFoundMessage.
func BuildContext(query string, results []domain.SearchResult) string {
	if len(results) == 0 {
		return NotFoundMessage
	}
	var b strings.Builder
	b.WriteString(preamble)
	for i, r := range results {
		fmt.Fprintf(&b, "--- Document %d (Score: %.3f) ---\n%s\n\n", i+1, r.Similarity, r.Content)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\nAnswer:", query)
	return b.String()
}

// PrepareContext searches for query and builds the prompt from the hits.
func (s *Synthesizer) PrepareContext(ctx context.Context, query string, k int) (string, []domain.SearchResult, error) {
	results, err := s.search.Search(ctx, query, k)
	if err != nil {
		return "", nil, err
	}
	return BuildContext(strings.TrimSpace(query), results), results, nil
}

// Answer sends prompt to the generator. NotFoundMessage is returned as is
// without a generator call.
func (s *Synthesizer) Answer(ctx context.Context, prompt string) (string, error) {
	if prompt == NotFoundMessage {
		return NotFoundMessage, nil
	}
	if err := domain.ValidatePrompt(prompt); err != nil {
		return "", err
	}

	text, err := s.gen.Generate(ctx, prompt, s.model)
	if err != nil {
		if domain.IsProvider(err) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", domain.NewProviderError(s.name, "generate", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", &domain.ProviderError{Provider: s.name, Op: "generate", Detail: "empty answer", Wrapped: domain.ErrEmptyAnswer}
	}
	return text, nil
}

// Ask searches, builds the prompt and answers it in one call.
func (s *Synthesizer) Ask(ctx context.Context, query string, k int) (*Answer, error) {
	prompt, results, err := s.PrepareContext(ctx, query, k)
	if err != nil {
		return nil, err
	}
	text, err := s.Answer(ctx, prompt)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "rag: answered", "results", len(results), "grounded", len(results) > 0)
	return &Answer{Text: text, Results: results}, nil
}

func nameOf(g any) string {
	if n, ok := g.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "generation"
}
