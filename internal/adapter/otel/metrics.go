package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "civicforge"

// Metrics holds all pipeline metric instruments.
type Metrics struct {
	JobsProcessed    metric.Int64Counter
	JobsDeadLettered metric.Int64Counter
	CacheHits        metric.Int64Counter
	LayerARejections metric.Int64Counter
	ConsensusReached metric.Int64Counter
	EvaluationTime   metric.Float64Histogram
	ConsensusLatency metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.JobsProcessed, err = meter.Int64Counter("civicforge.jobs.processed",
		metric.WithDescription("Number of evaluation jobs processed"))
	if err != nil {
		return nil, err
	}

	m.JobsDeadLettered, err = meter.Int64Counter("civicforge.jobs.dead_lettered",
		metric.WithDescription("Number of evaluation jobs force-rejected after retry exhaustion"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("civicforge.classifier.cache_hits",
		metric.WithDescription("Number of classifier verdicts served from cache"))
	if err != nil {
		return nil, err
	}

	m.LayerARejections, err = meter.Int64Counter("civicforge.prefilter.rejections",
		metric.WithDescription("Number of submissions rejected by the rule pre-filter"))
	if err != nil {
		return nil, err
	}

	m.ConsensusReached, err = meter.Int64Counter("civicforge.consensus.reached",
		metric.WithDescription("Number of consensus results recorded"))
	if err != nil {
		return nil, err
	}

	m.EvaluationTime, err = meter.Float64Histogram("civicforge.evaluation.duration_seconds",
		metric.WithDescription("End-to-end evaluation job duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ConsensusLatency, err = meter.Float64Histogram("civicforge.consensus.latency_seconds",
		metric.WithDescription("Time from first assignment to consensus in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
