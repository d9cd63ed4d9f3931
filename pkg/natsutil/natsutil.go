// Package natsutil provides typed JSON publish, subscribe and
// request/reply helpers over NATS with trace context carried in headers.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// DefaultTimeout bounds Request when ctx has no deadline.
const DefaultTimeout = 30 * time.Second

// ErrorReply is sent back when a responder fails.
type ErrorReply struct {
	Error string `json:"error"`
}

// RemoteError is a failure reported by a responder.
type RemoteError struct {
	Subject string
	Msg     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("natsutil: %s: remote error: %s", e.Subject, e.Msg)
}

// natsHeaderCarrier adapts nats.Msg headers for an OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func newMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish sends v as JSON on subject.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe decodes JSON messages on subject and hands them to handler
// with the sender's trace context. Malformed messages are logged and
// dropped.
func Subscribe[T any](nc *nats.Conn, subject string, logger *slog.Logger, handler func(context.Context, T)) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			logger.Warn("dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}

// Request sends req and decodes the reply. The wait is bounded by ctx or
// DefaultTimeout, whichever ends first. An ErrorReply comes back as a
// *RemoteError.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, fmt.Errorf("natsutil: request %s: %w", subject, err)
	}
	if resp.Header.Get(errorHeader) != "" {
		var e ErrorReply
		if err := json.Unmarshal(resp.Data, &e); err != nil {
			return zero, fmt.Errorf("natsutil: decode error reply: %w", err)
		}
		return zero, &RemoteError{Subject: subject, Msg: e.Error}
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, fmt.Errorf("natsutil: decode reply %s: %w", subject, err)
	}
	return result, nil
}

const errorHeader = "Askgeorge-Error"

// Respond serves request/reply on subject within queue group queue (empty
// for none). handler errors are replied as ErrorReply.
func Respond[Req, Resp any](nc *nats.Conn, subject, queue string, logger *slog.Logger, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		if msg.Reply == "" {
			logger.Warn("request without reply subject", "subject", msg.Subject)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))

		var req Req
		var out any
		failed := false
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			out, failed = ErrorReply{Error: "malformed request: " + err.Error()}, true
		} else if resp, err := handler(ctx, req); err != nil {
			out, failed = ErrorReply{Error: err.Error()}, true
		} else {
			out = resp
		}

		reply, err := newMsg(ctx, msg.Reply, out)
		if err != nil {
			logger.Error("encode reply", "subject", msg.Subject, "err", err)
			return
		}
		if failed {
			if reply.Header == nil {
				reply.Header = nats.Header{}
			}
			reply.Header.Set(errorHeader, "1")
		}
		if err := nc.PublishMsg(reply); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			logger.Warn("send reply", "subject", msg.Subject, "err", err)
		}
	})
}
