package messagequeue

// EvaluationRequestedPayload is the schema for moderation.evaluation.requested
// messages. It mirrors moderation.EvaluationJob on the wire.
type EvaluationRequestedPayload struct {
	EvaluationID     string   `json:"evaluation_id"`
	ContentID        string   `json:"content_id"`
	ContentType      string   `json:"content_type"`
	RawContent       string   `json:"raw_content"`
	SubmitterID      string   `json:"submitter_id"`
	SubmitterAgentID string   `json:"submitter_agent_id"`
	Lat              *float64 `json:"lat,omitempty"`
	Lng              *float64 `json:"lng,omitempty"`
}

// EvaluationCompletedPayload is the schema for moderation.evaluation.completed
// messages. It carries everything the validator pool selector needs.
type EvaluationCompletedPayload struct {
	EvaluationID     string   `json:"evaluation_id"`
	ContentID        string   `json:"content_id"`
	ContentType      string   `json:"content_type"`
	SubmitterID      string   `json:"submitter_id"`
	SubmitterAgentID string   `json:"submitter_agent_id"`
	FinalDecision    string   `json:"final_decision"`
	AlignmentScore   float64  `json:"alignment_score"`
	AlignedDomain    string   `json:"aligned_domain"`
	Summary          string   `json:"summary"`
	Lat              *float64 `json:"lat,omitempty"`
	Lng              *float64 `json:"lng,omitempty"`
}

// PeerResponsePayload is the schema for validation.peer.response messages,
// published by the external response route when a validator completes an
// assignment.
type PeerResponsePayload struct {
	PeerEvaluationID      string  `json:"peer_evaluation_id"`
	SubmissionID          string  `json:"submission_id"`
	SubmissionType        string  `json:"submission_type"`
	ValidatorID           string  `json:"validator_id"`
	Recommendation        string  `json:"recommendation"`
	Confidence            float64 `json:"confidence"`
	SafetyFlagged         bool    `json:"safety_flagged"`
	GuardrailEvaluationID string  `json:"guardrail_evaluation_id,omitempty"`
	AutomatedDecision     string  `json:"automated_decision,omitempty"`
	AutomatedScore        float64 `json:"automated_score,omitempty"`
}

// ConsensusReachedPayload is the schema for validation.consensus.reached
// messages.
type ConsensusReachedPayload struct {
	SubmissionID       string `json:"submission_id"`
	SubmissionType     string `json:"submission_type"`
	Decision           string `json:"decision"`
	ResponsesReceived  int    `json:"responses_received"`
	ConsensusLatencyMs int64  `json:"consensus_latency_ms"`
}
