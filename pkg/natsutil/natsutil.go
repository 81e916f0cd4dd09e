// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation and redelivery bookkeeping.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader counts how many times a message has been redelivered.
const RetryHeader = "X-Retry-Count"

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Encode builds a JSON message for subject with the trace context of ctx
// in its headers.
func Encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: make(nats.Header)}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it to subject.
func Publish[T any](ctx context.Context, pub Publisher, subject string, v T) error {
	msg, err := Encode(ctx, subject, v)
	if err != nil {
		return err
	}
	return pub.PublishMsg(msg)
}

// Attempts returns the redelivery count carried by msg, 0 for a first delivery.
func Attempts(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Forward republishes the payload of msg to subject with the retry count
// set to attempts and the trace context of ctx. Other headers are kept.
func Forward(ctx context.Context, pub Publisher, msg *nats.Msg, subject string, attempts int) error {
	out := &nats.Msg{Subject: subject, Data: msg.Data, Header: make(nats.Header)}
	for k, v := range msg.Header {
		out.Header[k] = append([]string(nil), v...)
	}
	out.Header.Set(RetryHeader, strconv.Itoa(attempts))
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(out))
	return pub.PublishMsg(out)
}

// Handler adapts a typed handler to a nats.MsgHandler. Trace context is
// extracted from the headers. Messages that fail to decode go to
// malformed, or are dropped when malformed is nil.
func Handler[T any](handle func(context.Context, *nats.Msg, T), malformed func(*nats.Msg, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if malformed != nil {
				malformed(msg, err)
			}
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handle(ctx, msg, v)
	}
}

// QueueSubscribe registers a typed handler in a queue group so that
// several workers share the subject.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, handle func(context.Context, *nats.Msg, T), malformed func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, Handler(handle, malformed))
}
