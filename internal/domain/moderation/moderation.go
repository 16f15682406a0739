// Package moderation defines domain types for the automated content
// moderation pipeline: evaluation jobs, layer results, trust tiers, and
// the persisted guardrail evaluation outcome.
package moderation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ContentType identifies the kind of submission being moderated.
type ContentType string

const (
	ContentProblem  ContentType = "problem"
	ContentSolution ContentType = "solution"
	ContentDebate   ContentType = "debate"
)

// Valid reports whether the content type is one of the known kinds.
func (c ContentType) Valid() bool {
	switch c {
	case ContentProblem, ContentSolution, ContentDebate:
		return true
	}
	return false
}

// Decision is the final automated moderation decision for a submission.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionFlagged  Decision = "flagged"
	DecisionRejected Decision = "rejected"
)

// LayerBDecision is the raw recommendation returned by the semantic classifier.
type LayerBDecision string

const (
	LayerBApprove LayerBDecision = "approve"
	LayerBFlag    LayerBDecision = "flag"
	LayerBReject  LayerBDecision = "reject"
)

// HarmRisk buckets the classifier's estimate of potential harm.
type HarmRisk string

const (
	HarmLow    HarmRisk = "low"
	HarmMedium HarmRisk = "medium"
	HarmHigh   HarmRisk = "high"
)

// EvaluationJob is one unit of work pulled from the evaluation queue.
// It is consumed exactly once and is terminal on completion or dead-letter.
type EvaluationJob struct {
	EvaluationID     string      `json:"evaluation_id"`
	ContentID        string      `json:"content_id"`
	ContentType      ContentType `json:"content_type"`
	RawContent       string      `json:"raw_content"`
	SubmitterID      string      `json:"submitter_id"`
	SubmitterAgentID string      `json:"submitter_agent_id"`
	Lat              *float64    `json:"lat,omitempty"`
	Lng              *float64    `json:"lng,omitempty"`
}

var (
	ErrEvaluationIDRequired = errors.New("evaluation_id is required")
	ErrContentIDRequired    = errors.New("content_id is required")
	ErrInvalidContentType   = errors.New("invalid content type")
	ErrContentRequired      = errors.New("raw_content is required")
	ErrSubmitterRequired    = errors.New("submitter_id is required")
)

// Validate checks the job for structural correctness before processing.
func (j *EvaluationJob) Validate() error {
	if j.EvaluationID == "" {
		return ErrEvaluationIDRequired
	}
	if j.ContentID == "" {
		return ErrContentIDRequired
	}
	if !j.ContentType.Valid() {
		return ErrInvalidContentType
	}
	if strings.TrimSpace(j.RawContent) == "" {
		return ErrContentRequired
	}
	if j.SubmitterID == "" {
		return ErrSubmitterRequired
	}
	return nil
}

// LayerAResult is the outcome of the deterministic rule pre-filter.
// It is ephemeral per job and persisted only as part of GuardrailEvaluation.
type LayerAResult struct {
	Passed            bool     `json:"passed"`
	ForbiddenPatterns []string `json:"forbidden_patterns,omitempty"`
	ExecutionTimeMs   int64    `json:"execution_time_ms"`
}

// LayerBResult is the semantic classifier's verdict for one piece of content.
// Results are cached by normalized-content hash and shared across submitters:
// identical text always classifies identically.
type LayerBResult struct {
	AlignedDomain  string         `json:"aligned_domain"`
	AlignmentScore float64        `json:"alignment_score"`
	HarmRisk       HarmRisk       `json:"harm_risk"`
	Feasibility    float64        `json:"feasibility"`
	Quality        float64        `json:"quality"`
	Decision       LayerBDecision `json:"decision"`
	Reasoning      string         `json:"reasoning"`
}

// GuardrailEvaluation is the persisted outcome of one evaluation job.
// Exactly one row exists per job; it is written in the same transaction as
// the content-entity status update.
type GuardrailEvaluation struct {
	EvaluationID   string        `json:"evaluation_id"`
	ContentID      string        `json:"content_id"`
	ContentType    ContentType   `json:"content_type"`
	SubmitterID    string        `json:"submitter_id"`
	LayerA         LayerAResult  `json:"layer_a"`
	LayerB         *LayerBResult `json:"layer_b,omitempty"`
	FinalDecision  Decision      `json:"final_decision"`
	AlignmentScore float64       `json:"alignment_score"`
	TrustTier      TrustTier     `json:"trust_tier"`
	CacheHit       bool          `json:"cache_hit"`
	DurationMs     int64         `json:"duration_ms"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// DeadLetterDurationMs is the sentinel duration recorded when a job is
// force-rejected after exhausting queue retries.
const DeadLetterDurationMs = -1

// SubmitterProfile carries the account facts the trust tier is derived from.
type SubmitterProfile struct {
	SubmitterID    string `json:"submitter_id"`
	AgentID        string `json:"agent_id"`
	AccountAgeDays int    `json:"account_age_days"`
	ApprovedCount  int    `json:"approved_count"`
}

// NormalizedHash returns the cache key hash for a piece of content:
// sha256 over the lowercased, whitespace-collapsed text. Two submissions
// that differ only in casing or spacing share one classifier verdict.
func NormalizedHash(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
