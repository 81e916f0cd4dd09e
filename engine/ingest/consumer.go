package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/pkg/metrics"
	"github.com/secondbrain/brain/pkg/natsutil"
)

const (
	// IngestSubject is the default NATS subject for async ingest requests.
	IngestSubject = "brain.ingest"
	// DLQSubject is the dead letter subject for requests that gave up.
	DLQSubject = "brain.ingest.dlq"
	// MaxRetries is the number of deliveries before a request is dead-lettered.
	MaxRetries = 3
	// QueueGroup lets several workers share the subject.
	QueueGroup = "brain-ingest"
)

// Ingester is what the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, req Request) (Result, error)
}

// ConsumerConfig names the subjects and the retry budget.
type ConsumerConfig struct {
	Subject    string
	DLQSubject string
	Queue      string
	MaxRetries int
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Subject == "" {
		c.Subject = IngestSubject
	}
	if c.DLQSubject == "" {
		c.DLQSubject = DLQSubject
	}
	if c.Queue == "" {
		c.Queue = QueueGroup
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxRetries
	}
	return c
}

// DeadLetter is published to the DLQ subject.
type DeadLetter struct {
	Request Request `json:"request"`
	Error   string  `json:"error"`
	Kind    string  `json:"kind"`
	Retries int     `json:"retries"`
}

// Consumer runs async ingest requests with retry and DLQ support.
type Consumer struct {
	svc     Ingester
	pub     natsutil.Publisher
	cfg     ConsumerConfig
	metrics *metrics.Brain
	log     *slog.Logger
}

// NewConsumer creates a Consumer. Retries and dead letters are published
// through pub.
func NewConsumer(svc Ingester, pub natsutil.Publisher, cfg ConsumerConfig, m *metrics.Brain, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{svc: svc, pub: pub, cfg: cfg.withDefaults(), metrics: m, log: logger}
}

// Start subscribes the consumer in its queue group.
func (c *Consumer) Start(nc *nats.Conn) (*nats.Subscription, error) {
	return natsutil.QueueSubscribe(nc, c.cfg.Subject, c.cfg.Queue, c.Handle, c.Malformed)
}

// Handle ingests one request. Transient failures are republished with an
// incremented retry count until MaxRetries is reached; permanent failures
// go straight to the DLQ.
func (c *Consumer) Handle(ctx context.Context, msg *nats.Msg, req Request) {
	res, err := c.svc.Ingest(ctx, req)
	if err == nil {
		c.log.InfoContext(ctx, "ingest: async success", "doc_id", res.DocumentID, "chunks", res.ChunkCount)
		return
	}

	retries := natsutil.Attempts(msg) + 1
	c.log.ErrorContext(ctx, "ingest: async failed", "err", err, "kind", domain.Kind(err), "retry", retries)

	if !domain.IsTransient(err) || retries >= c.cfg.MaxRetries {
		c.deadLetter(ctx, DeadLetter{Request: req, Error: err.Error(), Kind: domain.Kind(err), Retries: retries})
		return
	}
	if err := natsutil.Forward(ctx, c.pub, msg, c.cfg.Subject, retries); err != nil {
		c.log.ErrorContext(ctx, "ingest: retry publish failed", "err", err)
	}
}

// Malformed dead-letters a message whose payload could not be decoded.
func (c *Consumer) Malformed(msg *nats.Msg, err error) {
	c.log.Error("ingest: unmarshal failed", "err", err, "subject", msg.Subject)
	c.deadLetter(context.Background(), DeadLetter{Error: err.Error(), Kind: "malformed"})
}

func (c *Consumer) deadLetter(ctx context.Context, dl DeadLetter) {
	if c.metrics != nil {
		c.metrics.AsyncDeadLettered.Inc()
	}
	if err := natsutil.Publish(ctx, c.pub, c.cfg.DLQSubject, dl); err != nil {
		c.log.ErrorContext(ctx, "ingest: DLQ publish failed", "err", err)
	}
}

// Enqueue validates req and publishes it for async processing.
func Enqueue(ctx context.Context, pub natsutil.Publisher, subject string, req Request) error {
	if err := domain.ValidateText(req.Text); err != nil {
		return err
	}
	if subject == "" {
		subject = IngestSubject
	}
	return natsutil.Publish(ctx, pub, subject, req)
}
