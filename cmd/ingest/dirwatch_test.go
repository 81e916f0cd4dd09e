package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/ingest"
)

type recordingIngester struct {
	reqs []ingest.Request
	err  map[string]error
}

func (r *recordingIngester) Ingest(_ context.Context, req ingest.Request) (ingest.Result, error) {
	if err := r.err[req.Title]; err != nil {
		return ingest.Result{}, err
	}
	if err := domain.ValidateText(req.Text); err != nil {
		return ingest.Result{}, err
	}
	r.reqs = append(r.reqs, req)
	return ingest.Result{DocumentID: "doc-" + req.Title, ChunkCount: 1}, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanIngestsNotesOnce(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "axolotl.md", "# Axolotl\nRegrows limbs.")
	write(t, dir, "bread.txt", "Feed the starter.")
	write(t, dir, "image.png", "binary")
	write(t, dir, ".hidden.md", "skip me")

	svc := &recordingIngester{}
	w := newDirWatcher(dir, defaultStatePath(dir), svc, quiet())

	n, errs := w.Scan(context.Background())
	if n != 2 || errs != 0 {
		t.Fatalf("first scan: ingested=%d errors=%d", n, errs)
	}
	if svc.reqs[0].Title != "axolotl" || svc.reqs[0].Source != "file:axolotl.md" {
		t.Errorf("unexpected request %+v", svc.reqs[0])
	}

	// State survives a restart.
	w = newDirWatcher(dir, defaultStatePath(dir), svc, quiet())
	if n, _ := w.Scan(context.Background()); n != 0 {
		t.Errorf("second scan re-ingested %d files", n)
	}

	write(t, dir, "bread.txt", "Feed the starter twice a day.")
	if n, _ := w.Scan(context.Background()); n != 1 {
		t.Errorf("edited file should be ingested again, got %d", n)
	}
}

func TestScanRetriesTransientFailures(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "flaky.txt", "some text")
	write(t, dir, "empty.txt", "   ")

	svc := &recordingIngester{err: map[string]error{
		"flaky": domain.NewProviderError("gemini", "embed", errors.New("connection reset")),
	}}
	w := newDirWatcher(dir, defaultStatePath(dir), svc, quiet())

	if n, errs := w.Scan(context.Background()); n != 0 || errs != 2 {
		t.Fatalf("ingested=%d errors=%d", n, errs)
	}

	delete(svc.err, "flaky")
	n, errs := w.Scan(context.Background())
	if n != 1 || errs != 0 {
		t.Fatalf("retry scan: ingested=%d errors=%d (rejected files must not be retried)", n, errs)
	}
}

func TestScanMissingDir(t *testing.T) {
	w := newDirWatcher(filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "state.json"), &recordingIngester{}, quiet())
	if _, errs := w.Scan(context.Background()); errs != 1 {
		t.Fatalf("expected one error, got %d", errs)
	}
}

func TestScanRecoversFromBadState(t *testing.T) {
	for name, state := range map[string]string{"null": "null", "garbage": "{not json"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			write(t, dir, "axolotl.md", "Regrows limbs.")
			statePath := filepath.Join(t.TempDir(), "state.json")
			if err := os.WriteFile(statePath, []byte(state), 0o644); err != nil {
				t.Fatal(err)
			}

			svc := &recordingIngester{}
			w := newDirWatcher(dir, statePath, svc, quiet())
			if n, errs := w.Scan(context.Background()); n != 1 || errs != 0 {
				t.Fatalf("ingested=%d errors=%d", n, errs)
			}
			if n, _ := newDirWatcher(dir, statePath, svc, quiet()).Scan(context.Background()); n != 0 {
				t.Fatalf("expected rewritten state to skip the file, ingested %d", n)
			}
		})
	}
}
