package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/civicforge/civicforge/internal/adapter/otel"
	"github.com/civicforge/civicforge/internal/adapter/ws"
	"github.com/civicforge/civicforge/internal/config"
	"github.com/civicforge/civicforge/internal/domain/moderation"
	"github.com/civicforge/civicforge/internal/port/broadcast"
	"github.com/civicforge/civicforge/internal/port/cache"
	"github.com/civicforge/civicforge/internal/port/classifier"
	"github.com/civicforge/civicforge/internal/port/database"
	"github.com/civicforge/civicforge/internal/port/messagequeue"
)

const cacheKeyPrefix = "layerb:"

// summaryLen caps the content excerpt carried on completion events.
const summaryLen = 140

// ProcessResult reports what one evaluation job did.
type ProcessResult struct {
	CacheHit         bool  `json:"cache_hit"`
	LayerARejected   bool  `json:"layer_a_rejected"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// WorkerMetrics tracks runtime counters for one worker instance. Each
// instance owns its own counters; they are never shared across workers.
type WorkerMetrics struct {
	JobsCompleted    atomic.Int64
	JobsFailed       atomic.Int64
	JobsDeadLettered atomic.Int64
	CacheHits        atomic.Int64
	LayerARejections atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of worker counters.
type MetricsSnapshot struct {
	JobsCompleted    int64 `json:"jobs_completed"`
	JobsFailed       int64 `json:"jobs_failed"`
	JobsDeadLettered int64 `json:"jobs_dead_lettered"`
	CacheHits        int64 `json:"cache_hits"`
	LayerARejections int64 `json:"layer_a_rejections"`
}

// Snapshot returns a consistent-enough copy for logging and the admin API.
func (m *WorkerMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		JobsCompleted:    m.JobsCompleted.Load(),
		JobsFailed:       m.JobsFailed.Load(),
		JobsDeadLettered: m.JobsDeadLettered.Load(),
		CacheHits:        m.CacheHits.Load(),
		LayerARejections: m.LayerARejections.Load(),
	}
}

// EvaluationService is the automated moderation worker: Layer A rule
// pre-filter, cached Layer B classification, tier-threshold decision, and
// transactional persistence.
type EvaluationService struct {
	store      database.Store
	cache      cache.Cache
	classifier classifier.Classifier
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	otelm      *otel.Metrics
	cfg        config.Moderation
	cacheTTL   time.Duration

	metrics WorkerMetrics
}

// NewEvaluationService creates a new EvaluationService.
func NewEvaluationService(
	store database.Store,
	c cache.Cache,
	cl classifier.Classifier,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	cfg config.Moderation,
	cacheTTL time.Duration,
) *EvaluationService {
	return &EvaluationService{
		store:      store,
		cache:      c,
		classifier: cl,
		queue:      queue,
		hub:        hub,
		cfg:        cfg,
		cacheTTL:   cacheTTL,
	}
}

// SetMetrics attaches otel instruments. Worker counters work without them.
func (s *EvaluationService) SetMetrics(m *otel.Metrics) { s.otelm = m }

// Metrics exposes the worker's runtime counters.
func (s *EvaluationService) Metrics() *WorkerMetrics { return &s.metrics }

// Process runs one evaluation job end to end. The persistence step is a
// single transaction; a returned error means nothing was written and the
// queue runtime may redeliver.
func (s *EvaluationService) Process(ctx context.Context, job *moderation.EvaluationJob) (*ProcessResult, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("validate job: %w", err)
	}

	ctx, span := otel.StartEvaluationSpan(ctx, job.EvaluationID, string(job.ContentType))
	defer span.End()

	start := time.Now()

	profile, err := s.store.GetSubmitterProfile(ctx, job.SubmitterID)
	if err != nil {
		return nil, fmt.Errorf("resolve submitter %s: %w", job.SubmitterID, err)
	}
	tier := moderation.ResolveTrustTier(profile, s.cfg.TierRule())

	layerA := moderation.Prefilter(job.RawContent)
	if !layerA.Passed {
		ev := &moderation.GuardrailEvaluation{
			EvaluationID:  job.EvaluationID,
			ContentID:     job.ContentID,
			ContentType:   job.ContentType,
			SubmitterID:   job.SubmitterID,
			LayerA:        layerA,
			FinalDecision: moderation.DecisionRejected,
			TrustTier:     tier,
			DurationMs:    time.Since(start).Milliseconds(),
			CompletedAt:   time.Now().UTC(),
		}
		if err := s.store.SaveEvaluation(ctx, ev, string(moderation.DecisionRejected), false); err != nil {
			return nil, fmt.Errorf("save layer A rejection: %w", err)
		}

		s.metrics.LayerARejections.Add(1)
		s.metrics.JobsCompleted.Add(1)
		if s.otelm != nil {
			s.otelm.LayerARejections.Add(ctx, 1)
			s.otelm.JobsProcessed.Add(ctx, 1)
		}
		slog.Info("layer A rejection",
			"evaluation_id", job.EvaluationID,
			"patterns", layerA.ForbiddenPatterns)
		s.broadcastCompleted(ctx, ev)

		return &ProcessResult{LayerARejected: true, ProcessingTimeMs: time.Since(start).Milliseconds()}, nil
	}

	layerB, cacheHit, err := s.classify(ctx, job.RawContent)
	if err != nil {
		return nil, fmt.Errorf("classify content %s: %w", job.ContentID, err)
	}

	thresholds := s.cfg.ThresholdsFor(tier)
	decision := moderation.DecideFromScore(layerB.AlignmentScore, thresholds)

	ev := &moderation.GuardrailEvaluation{
		EvaluationID:   job.EvaluationID,
		ContentID:      job.ContentID,
		ContentType:    job.ContentType,
		SubmitterID:    job.SubmitterID,
		LayerA:         layerA,
		LayerB:         layerB,
		FinalDecision:  decision,
		AlignmentScore: layerB.AlignmentScore,
		TrustTier:      tier,
		CacheHit:       cacheHit,
		DurationMs:     time.Since(start).Milliseconds(),
		CompletedAt:    time.Now().UTC(),
	}

	if err := s.store.SaveEvaluation(ctx, ev, contentStatusFor(decision), decision == moderation.DecisionFlagged); err != nil {
		return nil, fmt.Errorf("save evaluation %s: %w", ev.EvaluationID, err)
	}

	s.metrics.JobsCompleted.Add(1)
	if cacheHit {
		s.metrics.CacheHits.Add(1)
	}
	if s.otelm != nil {
		s.otelm.JobsProcessed.Add(ctx, 1)
		if cacheHit {
			s.otelm.CacheHits.Add(ctx, 1)
		}
		s.otelm.EvaluationTime.Record(ctx, time.Since(start).Seconds())
	}

	if decision != moderation.DecisionRejected {
		s.publishCompleted(ctx, job, ev, layerB)
	}
	s.broadcastCompleted(ctx, ev)

	return &ProcessResult{
		CacheHit:         cacheHit,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// classify returns the Layer B verdict for content, serving repeats of the
// same normalized text from the shared cache. Concurrent misses on one key
// are tolerated; the redundant classifier call is harmless.
func (s *EvaluationService) classify(ctx context.Context, content string) (*moderation.LayerBResult, bool, error) {
	hash := moderation.NormalizedHash(content)
	key := cacheKeyPrefix + hash

	if data, found, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("classification cache get failed", "error", err)
	} else if found {
		var cached moderation.LayerBResult
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, true, nil
		}
		slog.Warn("classification cache entry corrupt, reclassifying", "key", key)
	}

	ctx, span := otel.StartClassifySpan(ctx, hash)
	defer span.End()

	result, err := s.classifier.Classify(ctx, content)
	if err != nil {
		return nil, false, err
	}

	if data, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			slog.Warn("classification cache set failed", "error", err)
		}
	}
	return result, false, nil
}

func (s *EvaluationService) publishCompleted(ctx context.Context, job *moderation.EvaluationJob, ev *moderation.GuardrailEvaluation, layerB *moderation.LayerBResult) {
	payload := messagequeue.EvaluationCompletedPayload{
		EvaluationID:     ev.EvaluationID,
		ContentID:        ev.ContentID,
		ContentType:      string(ev.ContentType),
		SubmitterID:      job.SubmitterID,
		SubmitterAgentID: job.SubmitterAgentID,
		FinalDecision:    string(ev.FinalDecision),
		AlignmentScore:   ev.AlignmentScore,
		AlignedDomain:    layerB.AlignedDomain,
		Summary:          summarize(job.RawContent),
		Lat:              job.Lat,
		Lng:              job.Lng,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal evaluation.completed", "evaluation_id", ev.EvaluationID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectEvaluationCompleted, data); err != nil {
		slog.Warn("publish evaluation.completed failed",
			"evaluation_id", ev.EvaluationID, "error", err)
	}
}

func (s *EvaluationService) broadcastCompleted(ctx context.Context, ev *moderation.GuardrailEvaluation) {
	s.hub.BroadcastEvent(ctx, ws.EventEvaluationCompleted, ws.EvaluationCompletedEvent{
		EvaluationID:   ev.EvaluationID,
		ContentID:      ev.ContentID,
		ContentType:    string(ev.ContentType),
		Decision:       string(ev.FinalDecision),
		AlignmentScore: ev.AlignmentScore,
		CacheHit:       ev.CacheHit,
	})
}

// Start consumes the evaluation queue with bounded concurrency until ctx is
// cancelled. Transient failures are redelivered with backoff; exhausted jobs
// are dead-lettered to a forced rejection.
func (s *EvaluationService) Start(ctx context.Context) (func(), error) {
	concurrency := s.cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	handler := func(ctx context.Context, subject string, data []byte) error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)

		var job moderation.EvaluationJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("unmarshal evaluation job: %w", err)
		}

		if _, err := s.Process(ctx, &job); err != nil {
			s.metrics.JobsFailed.Add(1)
			slog.Warn("evaluation job failed",
				"evaluation_id", job.EvaluationID, "error", err)
			return err
		}
		return nil
	}

	policy := messagequeue.RetryPolicy{
		MaxDeliver:   s.cfg.MaxDeliver,
		Backoff:      s.cfg.RetryBackoff,
		OnDeadLetter: s.deadLetter,
	}
	return s.queue.SubscribeDurable(ctx, messagequeue.SubjectEvaluationRequested, handler, policy)
}

// deadLetter forces a job that exhausted its retries into a terminal
// rejection. A job must never remain silently pending.
func (s *EvaluationService) deadLetter(ctx context.Context, _ string, data []byte) error {
	var job moderation.EvaluationJob
	if err := json.Unmarshal(data, &job); err != nil {
		slog.Error("dead-lettered message is not a valid job", "error", err)
		return nil
	}

	ev := &moderation.GuardrailEvaluation{
		EvaluationID:  job.EvaluationID,
		ContentID:     job.ContentID,
		ContentType:   job.ContentType,
		SubmitterID:   job.SubmitterID,
		FinalDecision: moderation.DecisionRejected,
		TrustTier:     moderation.TierNew,
		DurationMs:    moderation.DeadLetterDurationMs,
		CompletedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveEvaluation(ctx, ev, string(moderation.DecisionRejected), false); err != nil {
		slog.Error("dead-letter persistence failed",
			"evaluation_id", job.EvaluationID, "error", err)
		return err
	}

	s.metrics.JobsDeadLettered.Add(1)
	if s.otelm != nil {
		s.otelm.JobsDeadLettered.Add(ctx, 1)
	}
	slog.Error("evaluation job dead-lettered, forced rejection",
		"evaluation_id", job.EvaluationID,
		"content_id", job.ContentID)
	return nil
}

// StartMetricsLoop logs a counter snapshot every interval until ctx is
// cancelled.
func (s *EvaluationService) StartMetricsLoop(ctx context.Context) {
	interval := s.cfg.MetricsInterval
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := s.metrics.Snapshot()
				slog.Info("worker metrics",
					"jobs_completed", snap.JobsCompleted,
					"jobs_failed", snap.JobsFailed,
					"jobs_dead_lettered", snap.JobsDeadLettered,
					"cache_hits", snap.CacheHits,
					"layer_a_rejections", snap.LayerARejections)
			}
		}
	}()
}

func contentStatusFor(d moderation.Decision) string {
	if d == moderation.DecisionFlagged {
		return "pending_review"
	}
	return string(d)
}

func summarize(content string) string {
	if len(content) <= summaryLen {
		return content
	}
	return content[:summaryLen] + "..."
}
