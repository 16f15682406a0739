package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicforge/civicforge/internal/adapter/otel"
	"github.com/civicforge/civicforge/internal/adapter/ws"
	"github.com/civicforge/civicforge/internal/config"
	"github.com/civicforge/civicforge/internal/domain"
	"github.com/civicforge/civicforge/internal/domain/moderation"
	"github.com/civicforge/civicforge/internal/domain/peerreview"
	"github.com/civicforge/civicforge/internal/port/broadcast"
	"github.com/civicforge/civicforge/internal/port/database"
	"github.com/civicforge/civicforge/internal/port/messagequeue"
	"github.com/civicforge/civicforge/internal/port/submissionlock"
	"github.com/civicforge/civicforge/internal/port/tracker"
)

// AutomatedContext carries the Layer B outcome supplied alongside a peer
// response, used for agreement accounting. It may be absent.
type AutomatedContext struct {
	GuardrailEvaluationID string
	Decision              moderation.Decision
	Score                 float64
}

// ConsensusService aggregates completed peer responses into at most one
// stored consensus result per submission.
type ConsensusService struct {
	store   database.Store
	lock    submissionlock.Lock
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	tracker tracker.Tracker
	otelm   *otel.Metrics
	cfg     config.Validation
}

// NewConsensusService creates a new ConsensusService. tracker may be nil.
func NewConsensusService(
	store database.Store,
	lock submissionlock.Lock,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	t tracker.Tracker,
	cfg config.Validation,
) *ConsensusService {
	return &ConsensusService{
		store:   store,
		lock:    lock,
		queue:   queue,
		hub:     hub,
		tracker: t,
		cfg:     cfg,
	}
}

// SetMetrics attaches otel instruments.
func (s *ConsensusService) SetMetrics(m *otel.Metrics) { s.otelm = m }

// ComputeConsensus runs one idempotent consensus attempt. It returns nil
// (no error) when a result already exists or the quorum is not yet met; of
// N concurrent attempts for one submission exactly one stores a result.
func (s *ConsensusService) ComputeConsensus(ctx context.Context, submissionID string, submissionType moderation.ContentType, automated *AutomatedContext) (*peerreview.ConsensusResult, error) {
	ctx, span := otel.StartConsensusSpan(ctx, submissionID, string(submissionType))
	defer span.End()

	// The lock spans the whole read-decide-write sequence so the
	// existence-check-then-insert race cannot occur.
	release, err := s.lock.Acquire(ctx, lockKey(submissionID, submissionType))
	if err != nil {
		return nil, fmt.Errorf("acquire consensus lock: %w", err)
	}
	defer release()

	var (
		result    *peerreview.ConsensusResult
		responses []peerreview.PeerEvaluation
	)
	err = s.store.WithTx(ctx, func(tx database.Store) error {
		_, err := tx.GetConsensusResult(ctx, submissionID, submissionType)
		if err == nil {
			return nil // already decided
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		responses, err = tx.ListCompletedResponses(ctx, submissionID, submissionType)
		if err != nil {
			return err
		}
		if len(responses) < s.cfg.QuorumSize {
			return nil
		}

		r := s.decide(responses, automated)
		r.SubmissionID = submissionID
		r.SubmissionType = submissionType
		r.QuorumSize = s.cfg.QuorumSize
		r.ResponsesReceived = len(responses)
		r.CreatedAt = time.Now().UTC()

		earliest, err := tx.EarliestAssignmentTime(ctx, submissionID, submissionType)
		if err != nil {
			return err
		}
		if !earliest.IsZero() {
			r.ConsensusLatencyMs = time.Since(earliest).Milliseconds()
		}

		inserted, err := tx.InsertConsensusResult(ctx, r)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		cancelled, err := tx.CancelPendingEvaluations(ctx, submissionID, submissionType)
		if err != nil {
			return err
		}
		if cancelled > 0 {
			slog.Debug("cancelled pending peer evaluations",
				"submission_id", submissionID, "count", cancelled)
		}

		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("consensus %s/%s: %w", submissionType, submissionID, err)
	}
	if result == nil {
		return nil, nil
	}

	s.publishReached(ctx, result)
	s.hub.BroadcastEvent(ctx, ws.EventConsensusReached, ws.ConsensusReachedEvent{
		SubmissionID:     result.SubmissionID,
		SubmissionType:   string(result.SubmissionType),
		Decision:         string(result.Decision),
		Confidence:       result.Confidence,
		AgreesWithLayerB: result.AgreesWithLayerB,
		EscalationReason: result.EscalationReason,
	})
	s.reportToTracker(ctx, responses, result.LayerBDecision)

	if s.otelm != nil {
		s.otelm.ConsensusReached.Add(ctx, 1)
		s.otelm.ConsensusLatency.Record(ctx, float64(result.ConsensusLatencyMs)/1000)
	}

	slog.Info("consensus reached",
		"submission_id", result.SubmissionID,
		"submission_type", result.SubmissionType,
		"decision", result.Decision,
		"responses", result.ResponsesReceived,
		"agrees_with_layer_b", result.AgreesWithLayerB)

	return result, nil
}

// decide turns completed responses into a decision. A single safety flag
// escalates immediately; otherwise votes are weighted by tier and
// confidence, and ties resolve to escalated, never an implicit approve.
func (s *ConsensusService) decide(responses []peerreview.PeerEvaluation, automated *AutomatedContext) *peerreview.ConsensusResult {
	r := &peerreview.ConsensusResult{}
	if automated != nil {
		r.GuardrailEvaluationID = automated.GuardrailEvaluationID
		r.LayerBDecision = automated.Decision
	}

	for i := range responses {
		if responses[i].SafetyFlagged {
			r.Decision = peerreview.ConsensusEscalated
			r.Confidence = 1.0
			r.EscalationReason = peerreview.EscalationReasonSafetyFlag
			r.AgreesWithLayerB = automated != nil && r.Decision.AgreesWith(automated.Decision)
			return r
		}
	}

	for i := range responses {
		resp := &responses[i]
		w := resp.ValidatorTier.Weight() * resp.Confidence
		switch resp.Recommendation {
		case peerreview.RecommendApproved:
			r.WeightedApprove += w
		case peerreview.RecommendRejected:
			r.WeightedReject += w
		case peerreview.RecommendFlagged:
			r.WeightedEscalate += w
		}
	}

	total := r.WeightedApprove + r.WeightedReject + r.WeightedEscalate
	switch {
	case total <= 0:
		r.Decision = peerreview.ConsensusEscalated
	case r.WeightedApprove/total >= s.cfg.ApproveThreshold:
		r.Decision = peerreview.ConsensusApproved
		r.Confidence = r.WeightedApprove / total
	case r.WeightedReject/total >= s.cfg.RejectThreshold:
		r.Decision = peerreview.ConsensusRejected
		r.Confidence = r.WeightedReject / total
	default:
		r.Decision = peerreview.ConsensusEscalated
		r.Confidence = r.WeightedEscalate / total
	}

	r.AgreesWithLayerB = automated != nil && r.Decision.AgreesWith(automated.Decision)
	return r
}

func (s *ConsensusService) publishReached(ctx context.Context, r *peerreview.ConsensusResult) {
	payload := messagequeue.ConsensusReachedPayload{
		SubmissionID:       r.SubmissionID,
		SubmissionType:     string(r.SubmissionType),
		Decision:           string(r.Decision),
		ResponsesReceived:  r.ResponsesReceived,
		ConsensusLatencyMs: r.ConsensusLatencyMs,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal consensus.reached", "submission_id", r.SubmissionID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectConsensusReached, data); err != nil {
		slog.Warn("publish consensus.reached failed",
			"submission_id", r.SubmissionID, "error", err)
	}
}

// reportToTracker forwards each validator's recommendation to the external
// performance tracker. Failures are logged and swallowed; a tracker outage
// must never fail consensus.
func (s *ConsensusService) reportToTracker(ctx context.Context, responses []peerreview.PeerEvaluation, automated moderation.Decision) {
	if s.tracker == nil {
		return
	}
	for i := range responses {
		resp := &responses[i]
		if err := s.tracker.UpdateMetrics(ctx, resp.ValidatorID, string(resp.Recommendation), string(automated)); err != nil {
			slog.Warn("tracker update failed", "validator_id", resp.ValidatorID, "error", err)
			continue
		}
		if err := s.tracker.CheckTierChange(ctx, resp.ValidatorID); err != nil {
			slog.Warn("tracker tier check failed", "validator_id", resp.ValidatorID, "error", err)
		}
	}
}

// Start consumes peer responses; each message triggers one idempotent
// consensus attempt for its submission.
func (s *ConsensusService) Start(ctx context.Context) (func(), error) {
	handler := func(ctx context.Context, _ string, data []byte) error {
		var payload messagequeue.PeerResponsePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("unmarshal peer.response: %w", err)
		}

		var automated *AutomatedContext
		if payload.AutomatedDecision != "" {
			automated = &AutomatedContext{
				GuardrailEvaluationID: payload.GuardrailEvaluationID,
				Decision:              moderation.Decision(payload.AutomatedDecision),
				Score:                 payload.AutomatedScore,
			}
		}

		_, err := s.ComputeConsensus(ctx, payload.SubmissionID, moderation.ContentType(payload.SubmissionType), automated)
		return err
	}

	policy := messagequeue.RetryPolicy{
		MaxDeliver: 4,
		Backoff:    10 * time.Second,
		OnDeadLetter: func(_ context.Context, _ string, data []byte) error {
			slog.Error("consensus attempt abandoned after retries", "payload", string(data))
			return nil
		},
	}
	return s.queue.SubscribeDurable(ctx, messagequeue.SubjectPeerResponse, handler, policy)
}

func lockKey(submissionID string, submissionType moderation.ContentType) string {
	return "consensus:" + string(submissionType) + ":" + submissionID
}
