package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/pkg/metrics"
	"github.com/secondbrain/brain/pkg/natsutil"
)

type recordingPublisher struct {
	msgs []*nats.Msg
}

func (p *recordingPublisher) PublishMsg(m *nats.Msg) error {
	p.msgs = append(p.msgs, m)
	return nil
}

type stubIngester struct {
	err   error
	calls int
}

func (s *stubIngester) Ingest(context.Context, Request) (Result, error) {
	s.calls++
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{DocumentID: "d1", ChunkCount: 2}, nil
}

func delivery(t *testing.T, req Request, retries int) *nats.Msg {
	t.Helper()
	data, _ := json.Marshal(req)
	msg := &nats.Msg{Subject: IngestSubject, Data: data, Header: nats.Header{}}
	if retries > 0 {
		msg.Header.Set(natsutil.RetryHeader, strconv.Itoa(retries))
	}
	return msg
}

func newConsumer(svc Ingester, pub *recordingPublisher) (*Consumer, *metrics.Brain) {
	m := metrics.NewBrain(metrics.New())
	return NewConsumer(svc, pub, ConsumerConfig{}, m, quiet()), m
}

func TestConsumerSuccessPublishesNothing(t *testing.T) {
	pub := &recordingPublisher{}
	c, _ := newConsumer(&stubIngester{}, pub)
	c.Handle(context.Background(), delivery(t, Request{Text: "x"}, 0), Request{Text: "x"})
	if len(pub.msgs) != 0 {
		t.Fatalf("expected no publishes, got %d", len(pub.msgs))
	}
}

func TestConsumerRetriesTransientFailure(t *testing.T) {
	pub := &recordingPublisher{}
	c, _ := newConsumer(&stubIngester{err: domain.NewStoreError("insert chunks", errors.New("deadlock"))}, pub)

	c.Handle(context.Background(), delivery(t, Request{Text: "x"}, 0), Request{Text: "x"})
	if len(pub.msgs) != 1 {
		t.Fatalf("expected one retry, got %d", len(pub.msgs))
	}
	if pub.msgs[0].Subject != IngestSubject || natsutil.Attempts(pub.msgs[0]) != 1 {
		t.Fatalf("unexpected retry %s attempts=%d", pub.msgs[0].Subject, natsutil.Attempts(pub.msgs[0]))
	}
}

func TestConsumerDeadLettersAfterMaxRetries(t *testing.T) {
	pub := &recordingPublisher{}
	c, m := newConsumer(&stubIngester{err: domain.NewStoreError("insert chunks", errors.New("deadlock"))}, pub)

	c.Handle(context.Background(), delivery(t, Request{Text: "x"}, 2), Request{Text: "x"})
	if len(pub.msgs) != 1 || pub.msgs[0].Subject != DLQSubject {
		t.Fatalf("expected a DLQ publish, got %+v", pub.msgs)
	}
	var dl DeadLetter
	if err := json.Unmarshal(pub.msgs[0].Data, &dl); err != nil {
		t.Fatal(err)
	}
	if dl.Retries != MaxRetries || dl.Kind != "store" || dl.Request.Text != "x" {
		t.Fatalf("unexpected dead letter %+v", dl)
	}
	if m.AsyncDeadLettered.Value() != 1 {
		t.Error("dead letter not counted")
	}
}

func TestConsumerPermanentFailureSkipsRetry(t *testing.T) {
	pub := &recordingPublisher{}
	c, _ := newConsumer(&stubIngester{err: domain.NewValidationError("text", "", domain.ErrEmptyText)}, pub)

	c.Handle(context.Background(), delivery(t, Request{}, 0), Request{})
	if len(pub.msgs) != 1 || pub.msgs[0].Subject != DLQSubject {
		t.Fatalf("expected straight to DLQ, got %+v", pub.msgs)
	}
}

func TestConsumerMalformedGoesToDLQ(t *testing.T) {
	pub := &recordingPublisher{}
	svc := &stubIngester{}
	c, _ := newConsumer(svc, pub)

	natsutil.Handler(c.Handle, c.Malformed)(&nats.Msg{Subject: IngestSubject, Data: []byte("{not json")})
	if svc.calls != 0 {
		t.Fatal("malformed payload must not be ingested")
	}
	var dl DeadLetter
	if len(pub.msgs) != 1 || json.Unmarshal(pub.msgs[0].Data, &dl) != nil || dl.Kind != "malformed" {
		t.Fatalf("unexpected DLQ publish %+v", pub.msgs)
	}
}

func TestEnqueue(t *testing.T) {
	pub := &recordingPublisher{}
	if err := Enqueue(context.Background(), pub, "", Request{Text: " "}); !domain.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := Enqueue(context.Background(), pub, "", Request{Text: "hello", Title: "t"}); err != nil {
		t.Fatal(err)
	}
	var req Request
	if len(pub.msgs) != 1 || pub.msgs[0].Subject != IngestSubject || json.Unmarshal(pub.msgs[0].Data, &req) != nil || req.Title != "t" {
		t.Fatalf("unexpected publish %+v", pub.msgs)
	}
}
