package metrics

import (
	"strconv"
	"time"
)

// Brain holds the pipeline's metric series.
type Brain struct {
	reg *Registry

	DocumentsIngested *Counter
	ChunksInserted    *Counter
	ChunksPerDocument *Histogram
	IngestDuration    *Histogram
	SearchDuration    *Histogram
	SearchResults     *Histogram
	AsyncQueued       *Counter
	AsyncDeadLettered *Counter
}

// NewBrain registers the pipeline metrics on reg.
func NewBrain(reg *Registry) *Brain {
	return &Brain{
		reg:               reg,
		DocumentsIngested: reg.Counter("brain_documents_ingested_total", "Documents ingested successfully"),
		ChunksInserted:    reg.Counter("brain_chunks_inserted_total", "Chunks written to the store"),
		ChunksPerDocument: reg.Histogram("brain_chunks_per_document", "Chunks produced per document", []float64{1, 2, 5, 10, 25, 50, 100, 250}),
		IngestDuration:    reg.Histogram("brain_ingest_duration_seconds", "End-to-end ingest latency", nil),
		SearchDuration:    reg.Histogram("brain_search_duration_seconds", "Query embed and search latency", nil),
		SearchResults:     reg.Histogram("brain_search_results", "Results returned per search", []float64{0, 1, 3, 8, 20, 50}),
		AsyncQueued:       reg.Counter("brain_ingest_async_queued_total", "Ingest requests published for async processing"),
		AsyncDeadLettered: reg.Counter("brain_ingest_dead_lettered_total", "Async ingest requests sent to the dead letter subject"),
	}
}

// ObserveProvider records one provider call by provider, operation and outcome.
func (b *Brain) ObserveProvider(provider, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	b.reg.Counter(WithLabels("brain_provider_calls_total", "provider", provider, "op", op, "outcome", outcome),
		"Embedding and generation provider calls").Inc()
	b.reg.Histogram(WithLabels("brain_provider_call_duration_seconds", "provider", provider, "op", op),
		"Provider call latency", nil).Since(start)
}

// ObserveError counts a failed request by route and error kind.
func (b *Brain) ObserveError(route, kind string) {
	b.reg.Counter(WithLabels("brain_request_errors_total", "route", route, "kind", kind),
		"Failed requests by error kind").Inc()
}

// ObserveHTTP records one served request.
func (b *Brain) ObserveHTTP(route string, status int, start time.Time) {
	b.reg.Counter(WithLabels("brain_http_requests_total", "route", route, "status", strconv.Itoa(status)),
		"HTTP requests served").Inc()
	b.reg.Histogram(WithLabels("brain_http_request_duration_seconds", "route", route),
		"HTTP request latency", nil).Since(start)
}

// SetBreakerState exposes a circuit breaker state (0 closed, 1 open, 2 half-open).
func (b *Brain) SetBreakerState(provider string, state int) {
	b.reg.Gauge(WithLabels("brain_provider_breaker_state", "provider", provider),
		"Provider circuit breaker state").Set(int64(state))
}
