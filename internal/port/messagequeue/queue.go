// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"time"
)

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the evaluation ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// RetryPolicy controls redelivery for durable subscriptions. After
// MaxDeliver failed deliveries the message is handed to the dead-letter
// handler instead of being redelivered, and is then acknowledged; a job
// must never remain silently pending.
type RetryPolicy struct {
	// MaxDeliver is the total number of delivery attempts (first try
	// included). Zero means deliver once with no retry.
	MaxDeliver int

	// Backoff is the delay before a failed message is redelivered.
	Backoff time.Duration

	// OnDeadLetter is invoked exactly once when attempts are exhausted.
	// It must force the job into a terminal state.
	OnDeadLetter Handler
}

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// SubscribeDurable registers a handler with at-least-once delivery,
	// retry backoff, and dead-letter semantics per the policy.
	SubscribeDurable(ctx context.Context, subject string, handler Handler, policy RetryPolicy) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error
}

// Subject constants for the moderation pipeline.
const (
	// SubjectEvaluationRequested carries new evaluation jobs into the worker.
	SubjectEvaluationRequested = "moderation.evaluation.requested"

	// SubjectEvaluationCompleted announces a finished automated evaluation;
	// the validator pool selector consumes it.
	SubjectEvaluationCompleted = "moderation.evaluation.completed"

	// SubjectPeerResponse announces a completed peer response; each message
	// triggers an idempotent consensus attempt.
	SubjectPeerResponse = "validation.peer.response"

	// SubjectConsensusReached announces a stored consensus result.
	SubjectConsensusReached = "validation.consensus.reached"
)
