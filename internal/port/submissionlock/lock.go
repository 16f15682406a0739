// Package submissionlock defines the per-submission mutual exclusion port
// used to serialize consensus computation.
package submissionlock

import "context"

// Lock serializes concurrent consensus attempts for one submission. The
// lock must be held across the entire read-decide-write sequence, not just
// the insert, so the existence-check-then-insert race cannot occur.
type Lock interface {
	// Acquire blocks until the lock for key is held or ctx is done. The
	// returned release function must always be called.
	Acquire(ctx context.Context, key string) (release func(), err error)
}
