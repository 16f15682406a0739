package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civicforge/civicforge/internal/domain/moderation"
	"github.com/civicforge/civicforge/internal/domain/peerreview"
)

// GetConsensusResult returns the stored result for a submission, or a
// wrapped domain.ErrNotFound when none exists.
func (s *Store) GetConsensusResult(ctx context.Context, submissionID string, submissionType moderation.ContentType) (*peerreview.ConsensusResult, error) {
	var (
		r           peerreview.ConsensusResult
		guardrailID *string
		escalation  *string
		layerB      *string
	)
	err := s.q.QueryRow(ctx,
		`SELECT submission_id, submission_type, guardrail_evaluation_id, decision, confidence,
		        quorum_size, responses_received, weighted_approve, weighted_reject, weighted_escalate,
		        layer_b_decision, agrees_with_layer_b, consensus_latency_ms, escalation_reason, created_at
		 FROM consensus_results
		 WHERE submission_id = $1 AND submission_type = $2`,
		submissionID, string(submissionType),
	).Scan(&r.SubmissionID, &r.SubmissionType, &guardrailID, &r.Decision, &r.Confidence,
		&r.QuorumSize, &r.ResponsesReceived, &r.WeightedApprove, &r.WeightedReject, &r.WeightedEscalate,
		&layerB, &r.AgreesWithLayerB, &r.ConsensusLatencyMs, &escalation, &r.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get consensus result %s/%s", submissionType, submissionID)
	}
	if guardrailID != nil {
		r.GuardrailEvaluationID = *guardrailID
	}
	if layerB != nil {
		r.LayerBDecision = moderation.Decision(*layerB)
	}
	if escalation != nil {
		r.EscalationReason = *escalation
	}
	return &r, nil
}

// ListCompletedResponses returns all completed peer evaluations for a
// submission, including the tier snapshotted at assignment time.
func (s *Store) ListCompletedResponses(ctx context.Context, submissionID string, submissionType moderation.ContentType) ([]peerreview.PeerEvaluation, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, submission_id, submission_type, validator_id, validator_agent_id,
		        validator_tier, status, COALESCE(recommendation, ''), confidence, safety_flagged,
		        assigned_at, expires_at
		 FROM peer_evaluations
		 WHERE submission_id = $1 AND submission_type = $2 AND status = 'completed'
		 ORDER BY assigned_at ASC`,
		submissionID, string(submissionType))
	if err != nil {
		return nil, fmt.Errorf("list completed responses: %w", err)
	}
	defer rows.Close()

	var evals []peerreview.PeerEvaluation
	for rows.Next() {
		var e peerreview.PeerEvaluation
		err := rows.Scan(&e.ID, &e.SubmissionID, &e.SubmissionType, &e.ValidatorID, &e.ValidatorAgentID,
			&e.ValidatorTier, &e.Status, &e.Recommendation, &e.Confidence, &e.SafetyFlagged,
			&e.AssignedAt, &e.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("scan peer_evaluation: %w", err)
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// EarliestAssignmentTime returns when the first peer evaluation for the
// submission was assigned.
func (s *Store) EarliestAssignmentTime(ctx context.Context, submissionID string, submissionType moderation.ContentType) (time.Time, error) {
	var t *time.Time
	err := s.q.QueryRow(ctx,
		`SELECT min(assigned_at) FROM peer_evaluations
		 WHERE submission_id = $1 AND submission_type = $2`,
		submissionID, string(submissionType),
	).Scan(&t)
	if err != nil && err != pgx.ErrNoRows {
		return time.Time{}, fmt.Errorf("earliest assignment time: %w", err)
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}

// InsertConsensusResult stores the result if absent. It returns false
// without error when a result already exists for the submission.
func (s *Store) InsertConsensusResult(ctx context.Context, r *peerreview.ConsensusResult) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`INSERT INTO consensus_results
		   (submission_id, submission_type, guardrail_evaluation_id, decision, confidence,
		    quorum_size, responses_received, weighted_approve, weighted_reject, weighted_escalate,
		    layer_b_decision, agrees_with_layer_b, consensus_latency_ms, escalation_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (submission_id, submission_type) DO NOTHING`,
		r.SubmissionID, string(r.SubmissionType), nullIfEmpty(r.GuardrailEvaluationID),
		string(r.Decision), r.Confidence, r.QuorumSize, r.ResponsesReceived,
		r.WeightedApprove, r.WeightedReject, r.WeightedEscalate,
		nullIfEmpty(string(r.LayerBDecision)), r.AgreesWithLayerB, r.ConsensusLatencyMs,
		nullIfEmpty(r.EscalationReason), r.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert consensus result %s/%s: %w", r.SubmissionType, r.SubmissionID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelPendingEvaluations transitions all pending peer evaluations for the
// submission to cancelled and returns how many rows changed.
func (s *Store) CancelPendingEvaluations(ctx context.Context, submissionID string, submissionType moderation.ContentType) (int, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE peer_evaluations SET status = 'cancelled'
		 WHERE submission_id = $1 AND submission_type = $2 AND status = 'pending'`,
		submissionID, string(submissionType))
	if err != nil {
		return 0, fmt.Errorf("cancel pending evaluations %s/%s: %w", submissionType, submissionID, err)
	}
	return int(tag.RowsAffected()), nil
}
