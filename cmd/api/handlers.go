package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/secondbrain/brain/engine/backend"
	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/ingest"
	"github.com/secondbrain/brain/engine/retrieve"
	"github.com/secondbrain/brain/engine/store"
	"github.com/secondbrain/brain/pkg/natsutil"
)

type server struct {
	stack *backend.Stack
	log   *slog.Logger

	// publisher is nil when async ingest is not configured.
	publisher natsutil.Publisher
	subject   string
}

func newServer(stack *backend.Stack, logger *slog.Logger) *server {
	return &server{stack: stack, log: logger, subject: ingest.IngestSubject}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/ingest/async", s.handleIngestAsync)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/prepare-context", s.handlePrepareContext)
	mux.HandleFunc("POST /api/generate-answer", s.handleGenerateAnswer)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.Handle("GET /metrics", s.stack.Registry.Handler())
	return mux
}

// --- Request / response bodies ---

type queryRequest struct {
	Query string `json:"query"`
	K     *int   `json:"k,omitempty"`
}

type searchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

type prepareResponse struct {
	Prompt  string                `json:"prompt"`
	Results []domain.SearchResult `json:"results"`
}

type answerRequest struct {
	Prompt string `json:"prompt"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

// --- Handlers ---

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.stack.Store.Ping(r.Context()); err != nil {
		s.log.WarnContext(r.Context(), "health: store unreachable", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stack.Store.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.stack.Ingest.Ingest(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleIngestAsync(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async ingest is not configured"})
		return
	}
	var req ingest.Request
	if !s.decode(w, r, &req) {
		return
	}
	if err := ingest.Enqueue(r.Context(), s.publisher, s.subject, req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.stack.Metrics.AsyncQueued.Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.stack.Store.DeleteDocument(r.Context(), id)
	if errors.Is(err, store.ErrDocumentNotFound) {
		s.stack.Metrics.ObserveError(r.Pattern, "not_found")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "document deleted", "doc_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	results, err := s.stack.Retrieve.Search(r.Context(), req.Query, retrieve.KOrDefault(req.K, retrieve.DefaultSearchK))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (s *server) handlePrepareContext(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	prompt, results, err := s.stack.RAG.PrepareContext(r.Context(), req.Query, retrieve.KOrDefault(req.K, retrieve.DefaultContextK))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prepareResponse{Prompt: prompt, Results: results})
}

func (s *server) handleGenerateAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !s.decode(w, r, &req) {
		return
	}
	answer, err := s.stack.RAG.Answer(r.Context(), req.Prompt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Answer: answer})
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	ans, err := s.stack.RAG.Ask(r.Context(), req.Query, retrieve.KOrDefault(req.K, retrieve.DefaultContextK))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// --- Helpers ---

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return false
	}
	s.fail(w, r, domain.NewValidationError("body", "", err))
	return false
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatus(err)
	kind := domain.Kind(err)
	s.stack.Metrics.ObserveError(r.Pattern, kind)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "route", r.Pattern, "kind", kind, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
