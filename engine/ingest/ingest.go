// Package ingest provides the ingestion pipeline that takes raw text
// through validation, document creation, chunking, embedding and storage.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/secondbrain/brain/engine/chunk"
	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/store"
	"github.com/secondbrain/brain/pkg/fn"
	"github.com/secondbrain/brain/pkg/metrics"
)

// Embedder turns chunk texts into vectors, one per text, in order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Store    store.Store
	Embedder Embedder
	Chunking chunk.Options
	Metrics  *metrics.Brain
	Logger   *slog.Logger
}

// --- Pipeline Stages ---

// Validate rejects empty or whitespace-only text.
var Validate fn.Stage[Request, Request] = func(_ context.Context, req Request) fn.Result[Request] {
	if err := domain.ValidateText(req.Text); err != nil {
		return fn.Err[Request](err)
	}
	return fn.Ok(req)
}

// NewCreate creates a Create stage that allocates the document.
func NewCreate(s store.Store) fn.Stage[Request, CreatedDoc] {
	return fn.Lift(func(ctx context.Context, req Request) (CreatedDoc, error) {
		doc, err := s.CreateDocument(ctx, req.Title, req.Source)
		if err != nil {
			return CreatedDoc{}, storeErr("create document", err)
		}
		return CreatedDoc{Request: req, Doc: doc}, nil
	})
}

// NewChunk creates a Chunk stage with the given options.
func NewChunk(opts chunk.Options) fn.Stage[CreatedDoc, ChunkedDoc] {
	return fn.Lift(func(_ context.Context, doc CreatedDoc) (ChunkedDoc, error) {
		chunks, err := chunk.Split(doc.Text, opts)
		return ChunkedDoc{CreatedDoc: doc, Chunks: chunks}, err
	})
}

// NewEmbed creates an Embed stage. Provider errors pass through unchanged.
func NewEmbed(e Embedder) fn.Stage[ChunkedDoc, EmbeddedDoc] {
	return func(ctx context.Context, doc ChunkedDoc) fn.Result[EmbeddedDoc] {
		texts := make([]string, len(doc.Chunks))
		for i, c := range doc.Chunks {
			texts[i] = c.Content
		}
		vecs, err := e.EmbedTexts(ctx, texts)
		if err != nil {
			return fn.Err[EmbeddedDoc](err)
		}
		return fn.Ok(EmbeddedDoc{ChunkedDoc: doc, Embeddings: vecs})
	}
}

// Verify checks that every chunk got exactly one vector and attaches them.
var Verify fn.Stage[EmbeddedDoc, EmbeddedDoc] = func(_ context.Context, doc EmbeddedDoc) fn.Result[EmbeddedDoc] {
	if len(doc.Embeddings) != len(doc.Chunks) {
		return fn.Err[EmbeddedDoc](&domain.ConsistencyError{
			Msg:     fmt.Sprintf("%d chunks but %d embeddings", len(doc.Chunks), len(doc.Embeddings)),
			Wrapped: domain.ErrCountMismatch,
		})
	}
	for i := range doc.Chunks {
		doc.Chunks[i].Embedding = doc.Embeddings[i]
	}
	return fn.Ok(doc)
}

// NewStore creates a Store stage that writes all chunks as one batch.
func NewStore(s store.Store) fn.Stage[EmbeddedDoc, Result] {
	return func(ctx context.Context, doc EmbeddedDoc) fn.Result[Result] {
		if err := s.InsertChunks(ctx, doc.Doc.ID, doc.Chunks); err != nil {
			return fn.Err[Result](storeErr("insert chunks", err))
		}
		return fn.Ok(Result{DocumentID: doc.Doc.ID, ChunkCount: len(doc.Chunks)})
	}
}

// storeErr keeps validation and consistency errors raised by a store as
// they are and turns everything else into a StoreError.
func storeErr(op string, err error) error {
	if domain.IsConsistency(err) || domain.IsValidation(err) {
		return err
	}
	return domain.NewStoreError(op, err)
}

// LoggedTap returns a pass-through stage that logs entering name.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(ctx context.Context, _ T) {
		log.DebugContext(ctx, "stage.enter", "stage", name)
	})
}

// step wraps a stage in a span, prefixes it with a logging tap and logs
// its outcome and duration.
func step[A, B any](name string, log *slog.Logger, stage fn.Stage[A, B]) fn.Stage[A, B] {
	var timed fn.Stage[A, B] = func(ctx context.Context, a A) fn.Result[B] {
		start := time.Now()
		r := stage(ctx, a)
		log.DebugContext(ctx, "stage.exit", "stage", name, "ok", r.IsOk(), "duration", time.Since(start))
		return r
	}
	return fn.TracedStage("ingest."+name, fn.Then(LoggedTap[A](name, log), timed))
}

// NewPipeline constructs the full ingestion pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[Request, Result] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	// Validate → Create → Chunk → Embed → Verify → Store
	validated := step("validate", log, Validate)
	created := fn.Then(validated, step("create", log, NewCreate(deps.Store)))
	chunked := fn.Then(created, step("chunk", log, NewChunk(deps.Chunking)))
	embedded := fn.Then(chunked, step("embed", log, NewEmbed(deps.Embedder)))
	verified := fn.Then(embedded, step("verify", log, Verify))
	return fn.Then(verified, step("store", log, NewStore(deps.Store)))
}

// Service runs the ingestion pipeline and records its outcome.
type Service struct {
	pipeline fn.Stage[Request, Result]
	metrics  *metrics.Brain
	log      *slog.Logger
}

// New builds a Service. Zero chunking options mean the defaults. Options
// are checked here so that a bad configuration never leaves an empty
// document behind.
func New(deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("ingest: store and embedder are required")
	}
	if deps.Chunking == (chunk.Options{}) {
		deps.Chunking = chunk.DefaultOptions()
	}
	if err := deps.Chunking.Validate(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{pipeline: NewPipeline(deps), metrics: deps.Metrics, log: deps.Logger}, nil
}

// Ingest stores req.Text as a new document with its embedded chunks.
// On failure no chunks of the document are visible; the document itself
// may remain with zero chunks.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := s.pipeline(ctx, req).Unwrap()
	if err != nil {
		s.log.WarnContext(ctx, "ingest: failed", "err", err, "kind", domain.Kind(err), "title", req.Title)
		return Result{}, err
	}

	s.log.InfoContext(ctx, "ingest: stored", "doc_id", res.DocumentID, "chunks", res.ChunkCount, "duration", time.Since(start))
	if s.metrics != nil {
		s.metrics.DocumentsIngested.Inc()
		s.metrics.ChunksInserted.Add(int64(res.ChunkCount))
		s.metrics.ChunksPerDocument.Observe(float64(res.ChunkCount))
		s.metrics.IngestDuration.Since(start)
	}
	return res, nil
}
