package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/civicforge/civicforge/internal/domain/moderation"
)

// GetSubmitterProfile returns the account facts trust tiers derive from.
// Account age is computed from the submitter's created_at at query time.
func (s *Store) GetSubmitterProfile(ctx context.Context, submitterID string) (*moderation.SubmitterProfile, error) {
	var p moderation.SubmitterProfile
	err := s.q.QueryRow(ctx,
		`SELECT id, agent_id,
		        GREATEST(0, EXTRACT(EPOCH FROM (now() - created_at)) / 86400)::int,
		        approved_count
		 FROM submitters WHERE id = $1`, submitterID,
	).Scan(&p.SubmitterID, &p.AgentID, &p.AccountAgeDays, &p.ApprovedCount)
	if err != nil {
		return nil, notFoundWrap(err, "get submitter %s", submitterID)
	}
	return &p, nil
}

// SaveEvaluation persists the evaluation outcome, updates the content row's
// status, and optionally enqueues the submission for admin review, all in
// one transaction.
func (s *Store) SaveEvaluation(ctx context.Context, ev *moderation.GuardrailEvaluation, contentStatus string, enqueueAdminReview bool) error {
	return s.withTx(ctx, func(tx *Store) error {
		layerA, err := json.Marshal(ev.LayerA)
		if err != nil {
			return fmt.Errorf("marshal layer_a: %w", err)
		}
		var layerB []byte
		if ev.LayerB != nil {
			layerB, err = json.Marshal(ev.LayerB)
			if err != nil {
				return fmt.Errorf("marshal layer_b: %w", err)
			}
		}

		_, err = tx.q.Exec(ctx,
			`INSERT INTO guardrail_evaluations
			   (id, content_id, content_type, submitter_id, layer_a, layer_b,
			    final_decision, alignment_score, trust_tier, cache_hit, duration_ms, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			ev.EvaluationID, ev.ContentID, string(ev.ContentType), ev.SubmitterID,
			layerA, layerB, string(ev.FinalDecision), ev.AlignmentScore,
			string(ev.TrustTier), ev.CacheHit, ev.DurationMs, ev.CompletedAt)
		if err != nil {
			return fmt.Errorf("insert guardrail_evaluation %s: %w", ev.EvaluationID, err)
		}

		tag, err := tx.q.Exec(ctx,
			`UPDATE content_submissions SET status = $3, updated_at = now()
			 WHERE id = $1 AND content_type = $2`,
			ev.ContentID, string(ev.ContentType), contentStatus)
		if err != nil {
			return fmt.Errorf("update content status %s: %w", ev.ContentID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update content status %s: no such submission", ev.ContentID)
		}

		if enqueueAdminReview {
			_, err = tx.q.Exec(ctx,
				`INSERT INTO admin_review_queue (evaluation_id, content_id, content_type, reason)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (evaluation_id) DO NOTHING`,
				ev.EvaluationID, ev.ContentID, string(ev.ContentType), string(ev.FinalDecision))
			if err != nil {
				return fmt.Errorf("enqueue admin review %s: %w", ev.EvaluationID, err)
			}
		}
		return nil
	})
}

// GetEvaluation returns a stored guardrail evaluation by ID.
func (s *Store) GetEvaluation(ctx context.Context, evaluationID string) (*moderation.GuardrailEvaluation, error) {
	var (
		ev     moderation.GuardrailEvaluation
		layerA []byte
		layerB []byte
	)
	err := s.q.QueryRow(ctx,
		`SELECT id, content_id, content_type, submitter_id, layer_a, layer_b,
		        final_decision, alignment_score, trust_tier, cache_hit, duration_ms, completed_at
		 FROM guardrail_evaluations WHERE id = $1`, evaluationID,
	).Scan(&ev.EvaluationID, &ev.ContentID, &ev.ContentType, &ev.SubmitterID,
		&layerA, &layerB, &ev.FinalDecision, &ev.AlignmentScore,
		&ev.TrustTier, &ev.CacheHit, &ev.DurationMs, &ev.CompletedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get evaluation %s", evaluationID)
	}

	if err := json.Unmarshal(layerA, &ev.LayerA); err != nil {
		return nil, fmt.Errorf("unmarshal layer_a: %w", err)
	}
	if layerB != nil {
		var b moderation.LayerBResult
		if err := json.Unmarshal(layerB, &b); err != nil {
			return nil, fmt.Errorf("unmarshal layer_b: %w", err)
		}
		ev.LayerB = &b
	}
	return &ev, nil
}
