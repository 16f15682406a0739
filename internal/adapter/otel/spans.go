package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "civicforge"

// StartEvaluationSpan starts a span for one evaluation job.
func StartEvaluationSpan(ctx context.Context, evaluationID, contentType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "evaluation",
		trace.WithAttributes(
			attribute.String("evaluation.id", evaluationID),
			attribute.String("evaluation.content_type", contentType),
		),
	)
}

// StartClassifySpan starts a span for a classifier call.
func StartClassifySpan(ctx context.Context, contentHash string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "classify",
		trace.WithAttributes(
			attribute.String("classify.content_hash", contentHash),
		),
	)
}

// StartConsensusSpan starts a span for a consensus computation.
func StartConsensusSpan(ctx context.Context, submissionID, submissionType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "consensus",
		trace.WithAttributes(
			attribute.String("submission.id", submissionID),
			attribute.String("submission.type", submissionType),
		),
	)
}
