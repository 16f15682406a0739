package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/civicforge/civicforge/internal/domain/peerreview"
)

// ListEligibleValidators returns active, non-suspended validators under the
// daily cap, excluding the given submitter agent.
func (s *Store) ListEligibleValidators(ctx context.Context, excludeAgentID string, dailyCap int) ([]peerreview.ValidatorPoolMember, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, agent_id, tier, daily_evaluation_count, suspended_until, home_regions, active
		 FROM validator_pool_members
		 WHERE active
		   AND (suspended_until IS NULL OR suspended_until <= now())
		   AND daily_evaluation_count < $2
		   AND agent_id <> $1
		 ORDER BY id`, excludeAgentID, dailyCap)
	if err != nil {
		return nil, fmt.Errorf("list eligible validators: %w", err)
	}
	defer rows.Close()

	var members []peerreview.ValidatorPoolMember
	for rows.Next() {
		m, err := scanValidator(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RecentEvaluatorIDs returns the IDs of validators assigned to any of the
// submitter's last lastN submissions.
func (s *Store) RecentEvaluatorIDs(ctx context.Context, submitterAgentID string, lastN int) (map[string]struct{}, error) {
	rows, err := s.q.Query(ctx,
		`SELECT DISTINCT pe.validator_id
		 FROM peer_evaluations pe
		 WHERE (pe.submission_id, pe.submission_type) IN (
		   SELECT c.id, c.content_type
		   FROM content_submissions c
		   WHERE c.submitter_agent_id = $1
		   ORDER BY c.created_at DESC
		   LIMIT $2
		 )`, submitterAgentID, lastN)
	if err != nil {
		return nil, fmt.Errorf("recent evaluator ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan evaluator id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CreatePeerEvaluations inserts the pending assignment rows and increments
// each validator's daily counter in one transaction. The validator tier is
// snapshotted on the row so consensus weights stay stable if a validator is
// promoted mid-review.
func (s *Store) CreatePeerEvaluations(ctx context.Context, evals []peerreview.PeerEvaluation) error {
	return s.withTx(ctx, func(tx *Store) error {
		for i := range evals {
			e := &evals[i]
			_, err := tx.q.Exec(ctx,
				`INSERT INTO peer_evaluations
				   (id, submission_id, submission_type, validator_id, validator_agent_id,
				    validator_tier, status, confidence, safety_flagged, assigned_at, expires_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				e.ID, e.SubmissionID, string(e.SubmissionType), e.ValidatorID, e.ValidatorAgentID,
				string(e.ValidatorTier), string(e.Status), e.Confidence, e.SafetyFlagged,
				e.AssignedAt, e.ExpiresAt)
			if err != nil {
				return fmt.Errorf("insert peer_evaluation %d: %w", i, err)
			}

			_, err = tx.q.Exec(ctx,
				`UPDATE validator_pool_members
				 SET daily_evaluation_count = daily_evaluation_count + 1
				 WHERE id = $1`, e.ValidatorID)
			if err != nil {
				return fmt.Errorf("bump daily count for %s: %w", e.ValidatorID, err)
			}
		}
		return nil
	})
}

func scanValidator(row scannable) (peerreview.ValidatorPoolMember, error) {
	var m peerreview.ValidatorPoolMember
	var regionsJSON []byte
	err := row.Scan(&m.ID, &m.AgentID, &m.Tier, &m.DailyEvaluationCount,
		&m.SuspendedUntil, &regionsJSON, &m.Active)
	if err != nil {
		return m, fmt.Errorf("scan validator: %w", err)
	}
	if regionsJSON != nil {
		if err := json.Unmarshal(regionsJSON, &m.HomeRegions); err != nil {
			return m, fmt.Errorf("unmarshal home_regions: %w", err)
		}
	}
	return m, nil
}
