// Package tracker defines the port for the external validator performance
// tracker. All calls are best-effort: failures are logged and swallowed by
// callers, never propagated into consensus.
package tracker

import "context"

// Tracker receives per-validator agreement signals after each consensus.
type Tracker interface {
	// UpdateMetrics records one validator's recommendation against the
	// automated decision for the same submission.
	UpdateMetrics(ctx context.Context, validatorID, recommendation, automatedDecision string) error

	// CheckTierChange asks the tracker to re-evaluate the validator's tier.
	CheckTierChange(ctx context.Context, validatorID string) error
}
