// Package notifier defines the notification port (interface) and capabilities.
package notifier

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Assignment is the payload dispatched to one validator when they are
// assigned a peer evaluation.
type Assignment struct {
	EvaluationID     string    `json:"evaluation_id"`
	ValidatorAgentID string    `json:"validator_agent_id"`
	SubmissionType   string    `json:"submission_type"`
	Summary          string    `json:"summary"`
	Rubric           []string  `json:"rubric"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	PerRecipient   bool `json:"per_recipient"`
}

// Notifier is the port interface for dispatching assignment notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "webhook").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers one assignment notification. Delivery is best-effort;
	// the selector logs failures as warnings and continues.
	Send(ctx context.Context, assignment Assignment) error
}
