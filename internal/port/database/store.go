// Package database defines the persistence port (interface) for the
// moderation pipeline.
package database

import (
	"context"
	"time"

	"github.com/civicforge/civicforge/internal/domain/moderation"
	"github.com/civicforge/civicforge/internal/domain/peerreview"
)

// Store is the port interface for all persistent state the moderation core
// reads and writes. Implementations must make each method atomic; multi-step
// sequences are composed with WithTx.
type Store interface {
	// WithTx runs fn inside a single database transaction. The Store passed
	// to fn is bound to that transaction; the transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// --- Submitters ---

	// GetSubmitterProfile returns the account facts trust tiers derive from.
	GetSubmitterProfile(ctx context.Context, submitterID string) (*moderation.SubmitterProfile, error)

	// --- Guardrail evaluations ---

	// SaveEvaluation persists the evaluation outcome, updates the content
	// entity's status, and (when enqueueAdminReview is set) inserts an
	// admin-review-queue row, all in one transaction.
	SaveEvaluation(ctx context.Context, ev *moderation.GuardrailEvaluation, contentStatus string, enqueueAdminReview bool) error

	// GetEvaluation returns a stored guardrail evaluation by ID.
	GetEvaluation(ctx context.Context, evaluationID string) (*moderation.GuardrailEvaluation, error)

	// --- Validator pool ---

	// ListEligibleValidators returns active, non-suspended validators under
	// the daily cap, excluding the given submitter agent.
	ListEligibleValidators(ctx context.Context, excludeAgentID string, dailyCap int) ([]peerreview.ValidatorPoolMember, error)

	// RecentEvaluatorIDs returns the IDs of validators who evaluated any of
	// the submitter's last lastN submissions (anti-collusion exclusion set).
	RecentEvaluatorIDs(ctx context.Context, submitterAgentID string, lastN int) (map[string]struct{}, error)

	// CreatePeerEvaluations inserts the pending assignment rows and
	// increments each validator's daily counter in one transaction.
	CreatePeerEvaluations(ctx context.Context, evals []peerreview.PeerEvaluation) error

	// --- Consensus ---

	// GetConsensusResult returns the stored result for a submission, or
	// domain.ErrNotFound wrapped when none exists.
	GetConsensusResult(ctx context.Context, submissionID string, submissionType moderation.ContentType) (*peerreview.ConsensusResult, error)

	// ListCompletedResponses returns all completed peer evaluations for a
	// submission, including each validator's tier.
	ListCompletedResponses(ctx context.Context, submissionID string, submissionType moderation.ContentType) ([]peerreview.PeerEvaluation, error)

	// EarliestAssignmentTime returns when the first peer evaluation for the
	// submission was assigned, for consensus latency accounting.
	EarliestAssignmentTime(ctx context.Context, submissionID string, submissionType moderation.ContentType) (time.Time, error)

	// InsertConsensusResult stores the result if absent. It returns false
	// without error when a result already exists (insert-if-absent).
	InsertConsensusResult(ctx context.Context, res *peerreview.ConsensusResult) (bool, error)

	// CancelPendingEvaluations transitions all pending peer evaluations for
	// the submission to cancelled and returns how many rows changed.
	CancelPendingEvaluations(ctx context.Context, submissionID string, submissionType moderation.ContentType) (int, error)
}
