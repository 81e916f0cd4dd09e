package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/ingest"
)

var noteExts = map[string]bool{".txt": true, ".md": true, ".markdown": true}

func defaultStatePath(dir string) string { return filepath.Join(dir, ".ingest-state.json") }

// dirWatcher ingests new note files from a directory. A file is keyed by
// name and size, so an edited file is ingested again as a new document.
type dirWatcher struct {
	dir       string
	stateFile string
	svc       ingest.Ingester
	log       *slog.Logger
	processed map[string]bool
}

func newDirWatcher(dir, stateFile string, svc ingest.Ingester, log *slog.Logger) *dirWatcher {
	return &dirWatcher{dir: dir, stateFile: stateFile, svc: svc, log: log, processed: loadState(stateFile, log)}
}

// Run scans immediately and then every interval until ctx is done.
func (w *dirWatcher) Run(ctx context.Context, interval time.Duration) {
	w.Scan(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan ingests every unprocessed note and returns how many were ingested
// and how many failed. Files that failed transiently are retried on the
// next scan.
func (w *dirWatcher) Scan(ctx context.Context) (int, int) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Error("readdir failed", "err", err)
		return 0, 1
	}

	var count, errs int
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !noteExts[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%s:%d", name, info.Size())
		if w.processed[key] {
			continue
		}

		err = w.ingestFile(ctx, name)
		switch {
		case err == nil:
			count++
			w.processed[key] = true
		case domain.IsTransient(err):
			errs++
			w.log.Warn("file failed, will retry on next scan", "file", name, "err", err)
		default:
			errs++
			w.processed[key] = true
			w.log.Error("file rejected", "file", name, "err", err, "kind", domain.Kind(err))
		}
	}
	if err := saveState(w.stateFile, w.processed); err != nil {
		w.log.Error("save state failed", "err", err)
	}
	return count, errs
}

func (w *dirWatcher) ingestFile(ctx context.Context, name string) error {
	data, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		return err
	}
	res, err := w.svc.Ingest(ctx, ingest.Request{
		Text:   string(data),
		Title:  strings.TrimSuffix(name, filepath.Ext(name)),
		Source: "file:" + name,
	})
	if err != nil {
		return err
	}
	w.log.Info("file ingested", "file", name, "doc_id", res.DocumentID, "chunks", res.ChunkCount)
	return nil
}

// loadState reads the processed-file set. A missing or unreadable state
// file starts from an empty set.
func loadState(path string, log *slog.Logger) map[string]bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return make(map[string]bool)
	}
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn("state file ignored", "path", path, "err", err)
		return make(map[string]bool)
	}
	if m == nil {
		m = make(map[string]bool)
	}
	return m
}

func saveState(path string, m map[string]bool) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
