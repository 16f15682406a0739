package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event type constants for WebSocket messages.
const (
	EventEvaluationCompleted = "evaluation.completed"
	EventValidatorsAssigned  = "validators.assigned"
	EventConsensusReached    = "consensus.reached"
)

// EvaluationCompletedEvent is broadcast when the automated pipeline finishes
// a submission.
type EvaluationCompletedEvent struct {
	EvaluationID   string  `json:"evaluation_id"`
	ContentID      string  `json:"content_id"`
	ContentType    string  `json:"content_type"`
	Decision       string  `json:"decision"`
	AlignmentScore float64 `json:"alignment_score"`
	CacheHit       bool    `json:"cache_hit"`
}

// ValidatorsAssignedEvent is broadcast when peer validators are assigned to
// a submission.
type ValidatorsAssignedEvent struct {
	SubmissionID   string    `json:"submission_id"`
	SubmissionType string    `json:"submission_type"`
	AssignedCount  int       `json:"assigned_count"`
	QuorumRequired int       `json:"quorum_required"`
	TierFallback   bool      `json:"tier_fallback"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ConsensusReachedEvent is broadcast when peer consensus is recorded.
type ConsensusReachedEvent struct {
	SubmissionID     string  `json:"submission_id"`
	SubmissionType   string  `json:"submission_type"`
	Decision         string  `json:"decision"`
	Confidence       float64 `json:"confidence"`
	AgreesWithLayerB bool    `json:"agrees_with_layer_b"`
	EscalationReason string  `json:"escalation_reason,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
