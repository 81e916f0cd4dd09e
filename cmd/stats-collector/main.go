// Command stats-collector fetches store statistics from the API, computes
// deltas against the previous run and keeps a JSON history for dashboards.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/secondbrain/brain/engine/domain"
)

// Delta is the change between two consecutive snapshots.
type Delta struct {
	Timestamp      time.Time `json:"timestamp"`
	Period         string    `json:"period"`
	NewDocuments   int64     `json:"new_documents"`
	NewChunks      int64     `json:"new_chunks"`
	MissingDelta   int64     `json:"missing_embedding_delta"`
	TotalChunks    int64     `json:"total_chunks"`
	TotalDocuments int64     `json:"total_documents"`
}

// Snapshot is one fetched Stats value with the time it was taken.
type Snapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	Stats     domain.Stats `json:"stats"`
}

const maxHistory = 288

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "API base URL")
	dataDir := flag.String("data-dir", "docs/data", "output directory")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := &collector{client: &http.Client{Timeout: 10 * time.Second}, apiURL: *apiURL, dir: *dataDir, now: time.Now}
	cur, delta, err := c.Collect(ctx)
	if err != nil {
		slog.Error("collect failed", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Snapshot collected at %s (documents: %d, chunks: %d)\n",
		cur.Timestamp.Format(time.RFC3339), cur.Stats.Documents, cur.Stats.Chunks)
	fmt.Printf("Delta: +%d documents, +%d chunks\n", delta.NewDocuments, delta.NewChunks)
}

type collector struct {
	client *http.Client
	apiURL string
	dir    string
	now    func() time.Time
}

func (c *collector) paths() (latest, history, prev string) {
	return filepath.Join(c.dir, "stats-latest.json"),
		filepath.Join(c.dir, "stats-history.json"),
		filepath.Join(c.dir, ".stats-prev.json")
}

// Collect fetches the current stats, appends a delta to the history and
// records the snapshot for the next run.
func (c *collector) Collect(ctx context.Context) (Snapshot, Delta, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return Snapshot{}, Delta{}, err
	}
	latestPath, historyPath, prevPath := c.paths()

	stats, err := c.fetch(ctx)
	if err != nil {
		return Snapshot{}, Delta{}, err
	}
	cur := Snapshot{Timestamp: c.now().UTC(), Stats: stats}

	var prev Snapshot
	if data, err := os.ReadFile(prevPath); err == nil {
		json.Unmarshal(data, &prev)
	}

	delta := Delta{
		Timestamp:      cur.Timestamp,
		NewDocuments:   cur.Stats.Documents - prev.Stats.Documents,
		NewChunks:      cur.Stats.Chunks - prev.Stats.Chunks,
		MissingDelta:   cur.Stats.ChunksMissingEmbedding - prev.Stats.ChunksMissingEmbedding,
		TotalChunks:    cur.Stats.Chunks,
		TotalDocuments: cur.Stats.Documents,
	}
	if !prev.Timestamp.IsZero() {
		delta.Period = cur.Timestamp.Sub(prev.Timestamp).Round(time.Second).String()
	}

	snap, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return Snapshot{}, Delta{}, err
	}
	if err := os.WriteFile(latestPath, snap, 0o644); err != nil {
		return Snapshot{}, Delta{}, fmt.Errorf("write latest: %w", err)
	}

	var history []Delta
	if data, err := os.ReadFile(historyPath); err == nil {
		json.Unmarshal(data, &history)
	}
	history = append(history, delta)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	histData, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return Snapshot{}, Delta{}, err
	}
	if err := os.WriteFile(historyPath, histData, 0o644); err != nil {
		return Snapshot{}, Delta{}, fmt.Errorf("write history: %w", err)
	}
	if err := os.WriteFile(prevPath, snap, 0o644); err != nil {
		return Snapshot{}, Delta{}, fmt.Errorf("write prev: %w", err)
	}
	return cur, delta, nil
}

func (c *collector) fetch(ctx context.Context) (domain.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/api/stats", nil)
	if err != nil {
		return domain.Stats{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Stats{}, fmt.Errorf("API returned %d: %s", resp.StatusCode, body)
	}
	var st domain.Stats
	if err := json.Unmarshal(body, &st); err != nil {
		return domain.Stats{}, fmt.Errorf("parse stats: %w", err)
	}
	return st, nil
}
