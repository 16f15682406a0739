// Package peerreview defines domain types for the peer-consensus layer:
// the validator pool, peer evaluation assignments, and consensus results.
package peerreview

import (
	"errors"
	"time"

	"github.com/civicforge/civicforge/internal/domain/geo"
	"github.com/civicforge/civicforge/internal/domain/moderation"
)

// ValidatorTier buckets validators by experience. Higher tiers carry more
// weight in consensus and satisfy the stratification requirement.
type ValidatorTier string

const (
	TierApprentice ValidatorTier = "apprentice"
	TierJourneyman ValidatorTier = "journeyman"
	TierExpert     ValidatorTier = "expert"
)

// Weight returns the consensus vote multiplier for the tier.
func (t ValidatorTier) Weight() float64 {
	switch t {
	case TierExpert:
		return 2.0
	case TierJourneyman:
		return 1.5
	default:
		return 1.0
	}
}

// Rank orders tiers for stratified selection; higher is more experienced.
func (t ValidatorTier) Rank() int {
	switch t {
	case TierExpert:
		return 2
	case TierJourneyman:
		return 1
	default:
		return 0
	}
}

// ValidatorPoolMember is one reviewer in the validator pool.
type ValidatorPoolMember struct {
	ID                   string        `json:"id"`
	AgentID              string        `json:"agent_id"`
	Tier                 ValidatorTier `json:"tier"`
	DailyEvaluationCount int           `json:"daily_evaluation_count"`
	SuspendedUntil       *time.Time    `json:"suspended_until,omitempty"`
	HomeRegions          []geo.Point   `json:"home_regions,omitempty"`
	Active               bool          `json:"active"`
}

// NearAny reports whether any of the member's home regions lies within
// radiusKm of the given point.
func (v *ValidatorPoolMember) NearAny(p geo.Point, radiusKm float64) bool {
	for _, r := range v.HomeRegions {
		if geo.WithinKm(r, p, radiusKm) {
			return true
		}
	}
	return false
}

// PeerEvaluationStatus is the lifecycle state of one assignment.
type PeerEvaluationStatus string

const (
	StatusPending   PeerEvaluationStatus = "pending"
	StatusCompleted PeerEvaluationStatus = "completed"
	StatusCancelled PeerEvaluationStatus = "cancelled"
	StatusExpired   PeerEvaluationStatus = "expired"
)

// Recommendation is a validator's verdict on a submission.
type Recommendation string

const (
	RecommendApproved Recommendation = "approved"
	RecommendRejected Recommendation = "rejected"
	RecommendFlagged  Recommendation = "flagged"
)

// PeerEvaluation is one validator's assignment for one submission. Rows are
// batch-created at assignment time; only status, recommendation, confidence
// and the safety flag mutate afterward.
type PeerEvaluation struct {
	ID               string                 `json:"id"`
	SubmissionID     string                 `json:"submission_id"`
	SubmissionType   moderation.ContentType `json:"submission_type"`
	ValidatorID      string                 `json:"validator_id"`
	ValidatorAgentID string                 `json:"validator_agent_id"`
	ValidatorTier    ValidatorTier          `json:"validator_tier"`
	Status           PeerEvaluationStatus   `json:"status"`
	Recommendation   Recommendation         `json:"recommendation,omitempty"`
	Confidence       float64                `json:"confidence"`
	SafetyFlagged    bool                   `json:"safety_flagged"`
	AssignedAt       time.Time              `json:"assigned_at"`
	ExpiresAt        time.Time              `json:"expires_at"`
}

// Assignment is the selector's answer: which validators were assigned and
// under what terms.
type Assignment struct {
	AssignedValidatorIDs []string  `json:"assigned_validator_ids"`
	TierFallback         bool      `json:"tier_fallback"`
	QuorumRequired       int       `json:"quorum_required"`
	ExpiresAt            time.Time `json:"expires_at"`
}

// ErrInsufficientValidators is returned when fewer than the minimum eligible
// candidates exist for a submission. It is surfaced synchronously, never
// silently degraded.
var ErrInsufficientValidators = errors.New("insufficient eligible validators")

// ConsensusDecision is the terminal outcome of peer consensus.
type ConsensusDecision string

const (
	ConsensusApproved  ConsensusDecision = "approved"
	ConsensusRejected  ConsensusDecision = "rejected"
	ConsensusEscalated ConsensusDecision = "escalated"
	ConsensusExpired   ConsensusDecision = "expired"
)

// EscalationReasonSafetyFlag marks a consensus escalated by a safety-flagged
// response, bypassing the weighted vote.
const EscalationReasonSafetyFlag = "safety_flag"

// ConsensusResult is the single stored consensus outcome per submission.
// At most one row exists per (SubmissionID, SubmissionType), enforced by a
// unique key plus an advisory lock around the read-decide-write sequence.
type ConsensusResult struct {
	SubmissionID          string                 `json:"submission_id"`
	SubmissionType        moderation.ContentType `json:"submission_type"`
	GuardrailEvaluationID string                 `json:"guardrail_evaluation_id,omitempty"`
	Decision              ConsensusDecision      `json:"decision"`
	Confidence            float64                `json:"confidence"`
	QuorumSize            int                    `json:"quorum_size"`
	ResponsesReceived     int                    `json:"responses_received"`
	WeightedApprove       float64                `json:"weighted_approve"`
	WeightedReject        float64                `json:"weighted_reject"`
	WeightedEscalate      float64                `json:"weighted_escalate"`
	LayerBDecision        moderation.Decision    `json:"layer_b_decision,omitempty"`
	AgreesWithLayerB      bool                   `json:"agrees_with_layer_b"`
	ConsensusLatencyMs    int64                  `json:"consensus_latency_ms"`
	EscalationReason      string                 `json:"escalation_reason,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
}

// AgreesWith reports whether the consensus decision matches the automated
// Layer B decision. An escalated consensus agrees only when the automated
// pipeline also flagged the content for review.
func (c ConsensusDecision) AgreesWith(automated moderation.Decision) bool {
	switch c {
	case ConsensusApproved:
		return automated == moderation.DecisionApproved
	case ConsensusRejected:
		return automated == moderation.DecisionRejected
	case ConsensusEscalated:
		return automated == moderation.DecisionFlagged
	default:
		return false
	}
}

// Rubric is the fixed review rubric dispatched with every validator
// notification.
var Rubric = []string{
	"Is the submission safe: no harassment, incitement, doxxing, or scams?",
	"Is it on-mission for civic collaboration in the stated domain?",
	"Is the proposal feasible for a community to act on?",
	"Is the content substantive rather than spam or filler?",
}
