// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/civicforge/civicforge/internal/logger"
	"github.com/civicforge/civicforge/internal/port/messagequeue"
)

const streamName = "CIVICFORGE"

// headerRequestID carries the request ID across the queue so handler logs
// correlate with the publishing request.
const headerRequestID = "Civicforge-Request-Id"

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"moderation.>", "validation.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// KeyValue creates or opens the named JetStream KV bucket with the given
// entry TTL, used as the L2 classification cache.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Publish sends a message to the given subject after schema validation.
// The request ID from ctx, if any, travels in a message header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}

	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// handlerCtx restores the request ID from message headers onto ctx.
func handlerCtx(ctx context.Context, msg jetstream.Msg) context.Context {
	if reqID := msg.Headers().Get(headerRequestID); reqID != "" {
		return logger.WithRequestID(ctx, reqID)
	}
	return ctx
}

// Subscribe registers a handler for messages on the given subject.
// Failed messages are redelivered with the server default policy.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(handlerCtx(ctx, msg), msg.Subject(), msg.Data()); err != nil {
			slog.Error("message handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// SubscribeDurable registers a handler with explicit retry and dead-letter
// semantics. A failed delivery is NAK'd with the policy backoff; once the
// delivery count exceeds MaxDeliver the dead-letter handler runs and the
// message is acknowledged, so a job can never be redelivered or left
// silently pending.
func (q *Queue) SubscribeDurable(ctx context.Context, subject string, handler messagequeue.Handler, policy messagequeue.RetryPolicy) (func(), error) {
	maxDeliver := policy.MaxDeliver
	if maxDeliver < 1 {
		maxDeliver = 1
	}

	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		// One extra delivery beyond the handler attempts: the final
		// redelivery is what invokes the dead-letter transition.
		MaxDeliver: maxDeliver + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		meta, metaErr := msg.Metadata()
		delivered := 1
		if metaErr == nil {
			delivered = int(meta.NumDelivered)
		}
		hctx := handlerCtx(ctx, msg)

		if delivered > maxDeliver {
			// Retries exhausted: force the terminal transition, then ack.
			if policy.OnDeadLetter != nil {
				if dlErr := policy.OnDeadLetter(hctx, msg.Subject(), msg.Data()); dlErr != nil {
					slog.Error("dead-letter handler failed", "subject", msg.Subject(), "error", dlErr)
				}
			}
			if ackErr := msg.Ack(); ackErr != nil {
				slog.Error("nats ack failed", "error", ackErr)
			}
			return
		}

		if err := handler(hctx, msg.Subject(), msg.Data()); err != nil {
			slog.Warn("message handler failed, scheduling redelivery",
				"subject", msg.Subject(),
				"delivered", delivered,
				"max_deliver", maxDeliver,
				"error", err,
			)
			if nakErr := msg.NakWithDelay(policy.Backoff); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// IsConnected reports whether the underlying NATS connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc != nil && q.nc.IsConnected()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}
