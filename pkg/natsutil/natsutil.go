// Package natsutil wraps a NATS connection with JSON-typed publish and
// subscribe, carrying OpenTelemetry trace context in message headers.
package natsutil

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier exposes nats.Msg headers as an OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = nats.Header{}
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if len(c.Header) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// encode marshals v and injects the trace context from ctx into the
// message headers.
func encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// decode unmarshals a message into a T and recovers the trace context
// from its headers. ok is false for payloads that do not parse.
func decode[T any](msg *nats.Msg) (ctx context.Context, v T, ok bool) {
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, false
	}
	ctx = otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
	return ctx, v, true
}

// Publish sends v as JSON on subject with the caller's trace context in
// the headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := encode(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe delivers each JSON message on subject to handler as a T,
// with the publisher's trace context restored. Payloads that fail to
// parse are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, v, ok := decode[T](msg)
		if !ok {
			return
		}
		handler(ctx, v)
	})
}
