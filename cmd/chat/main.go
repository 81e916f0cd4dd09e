// Command chat is a terminal client for the knowledge base: each line read
// from stdin is answered from the stored notes, with the matching chunks
// listed as sources.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/secondbrain/brain/engine/backend"
	"github.com/secondbrain/brain/engine/rag"
	"github.com/secondbrain/brain/engine/retrieve"
	"github.com/secondbrain/brain/pkg/config"
)

// Asker answers a question from the knowledge base.
type Asker interface {
	Ask(ctx context.Context, query string, k int) (*rag.Answer, error)
}

func main() {
	k := flag.Int("k", retrieve.DefaultContextK, "chunks used as context")
	showSources := flag.Bool("sources", true, "print the matching chunks")
	flag.Parse()

	dotErr := config.LoadDotEnv()
	cfg, err := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)
	if dotErr != nil {
		logger.Warn("dotenv file ignored", "err", dotErr)
	}
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := backend.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("backend setup failed", "err", err)
		os.Exit(1)
	}
	defer stack.Close()

	if err := chat(ctx, os.Stdin, os.Stdout, stack.RAG, retrieve.ClampK(*k), *showSources); err != nil {
		logger.Error("chat ended with error", "err", err)
		os.Exit(1)
	}
}

func chat(ctx context.Context, in io.Reader, out io.Writer, asker Asker, k int, showSources bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		q := strings.TrimSpace(scanner.Text())
		switch q {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "exit", "quit":
			return nil
		}

		ans, err := asker.Ask(ctx, q, k)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n\n> ", err)
			continue
		}
		fmt.Fprintf(out, "%s\n", strings.TrimSpace(ans.Text))
		if showSources && len(ans.Results) > 0 {
			fmt.Fprintln(out, "\nSources:")
			for i, r := range ans.Results {
				fmt.Fprintf(out, "[%d] (score: %.3f, doc: %s) %s\n", i+1, r.Similarity, r.DocumentID, snippet(r.Content, 100))
			}
		}
		fmt.Fprint(out, "\n> ")
	}
	return scanner.Err()
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
