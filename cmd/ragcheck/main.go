// Command ragcheck is an operational sanity check of the configured store:
// chunk totals, a sample embedding, a self-match search, the most recent
// chunks and a smoke search.
//
//	ragcheck [query words...]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/secondbrain/brain/engine/backend"
	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/store"
	"github.com/secondbrain/brain/pkg/config"
)

const defaultQuery = "axolotl"

// Searcher runs a text query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

func main() {
	flag.Parse()
	dotErr := config.LoadDotEnv()
	cfg, err := config.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if dotErr != nil {
		log.Warn("dotenv file ignored", "err", dotErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stack, err := backend.Build(ctx, cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer stack.Close()

	fmt.Printf("store: %s  provider: %s  model: %s\n", cfg.Store, cfg.Provider, cfg.EmbedModel())
	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if err := check(ctx, os.Stdout, stack.Store, stack.Retrieve, query); err != nil {
		fmt.Fprintln(os.Stderr, "check failed:", err)
		os.Exit(1)
	}
}

func check(ctx context.Context, w io.Writer, st store.Backend, search Searcher, query string) error {
	if query == "" {
		query = defaultQuery
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "documents:", stats.Documents)
	fmt.Fprintln(w, "chunks total:", stats.Chunks)
	fmt.Fprintln(w, "chunks with embedding:", stats.WithEmbedding())
	fmt.Fprintln(w, "chunks missing embedding:", stats.ChunksMissingEmbedding)
	if stats.OrphanedVectors > 0 {
		fmt.Fprintln(w, "orphaned vectors:", stats.OrphanedVectors)
	}
	if stats.Chunks == 0 {
		fmt.Fprintln(w, "No chunks found. Ingest a document, then re-run this check.")
		return nil
	}

	sample, err := st.SampleChunk(ctx)
	if err != nil {
		return err
	}
	if sample != nil {
		fmt.Fprintln(w, "\nSample stored chunk id:", sample.ID)
		fmt.Fprintln(w, "Sample content preview:", preview(sample.Content, 80))
		fmt.Fprintln(w, "Sample embedding length:", len(sample.Embedding))
		selfMatch(ctx, w, st, sample)
	}

	recent, err := st.RecentChunks(ctx, 5)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nMost recent chunks:")
	for _, c := range recent {
		fmt.Fprintf(w, "- %s doc=%s idx=%d %s\n", c.ID, c.DocumentID, c.Index, preview(c.Content, 120))
	}

	fmt.Fprintf(w, "\nSearching for %q\n", query)
	results, err := search.Search(ctx, query, 5)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "match count:", len(results))
	for _, r := range results {
		fmt.Fprintf(w, "- sim=%.3f chunk=%d doc=%s\n  %s\n", r.Similarity, r.ChunkIndex, r.DocumentID, preview(r.Content, 160))
	}
	return nil
}

// selfMatch searches with a stored embedding; the chunk itself should come
// back first. Failures are reported, not returned.
func selfMatch(ctx context.Context, w io.Writer, st store.Store, sample *domain.StoredChunk) {
	if len(sample.Embedding) == 0 {
		fmt.Fprintln(w, "Self-match test skipped: sample has no embedding")
		return
	}
	res, err := st.SimilaritySearch(ctx, sample.Embedding, 3)
	if err != nil {
		fmt.Fprintln(w, "Self-match test failed:", err)
		return
	}
	fmt.Fprintln(w, "Self-match result count:", len(res))
	if len(res) > 0 {
		status := "ok"
		if res[0].ChunkID != sample.ID {
			status = "MISMATCH"
		}
		fmt.Fprintf(w, "Self-match top chunk_id: %s (%s)\n", res[0].ChunkID, status)
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
