// Package classifier defines the port for the external semantic classifier
// (Layer B).
package classifier

import (
	"context"

	"github.com/civicforge/civicforge/internal/domain/moderation"
)

// Classifier scores a piece of content for mission alignment. Calls are
// expected to be slow relative to the rule pre-filter and are fronted by
// the classification cache.
type Classifier interface {
	Classify(ctx context.Context, content string) (*moderation.LayerBResult, error)
}
