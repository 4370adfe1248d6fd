// Package remote abstracts the shared JSON-file object store and provides
// the single retrying read-merge-write primitive used by every remote mutation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/umutcrkn/petshop/internal/errs"
)

// Store is a content-addressed file API. A missing file is not an error:
// Read returns nil bytes for it. Write must fetch the current version token
// immediately before writing; a stale token yields errs.ErrConflict.
type Store interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, message string) error
}

// RetryPolicy parameterizes the retrying write primitive.
type RetryPolicy struct {
	Attempts uint64        // total attempts, including the first
	Backoff  time.Duration // base delay, grows exponentially per attempt
}

// DefaultRetry matches the documented conflict policy: three attempts with
// exponential backoff starting at half a second.
var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 500 * time.Millisecond}

// MergeFunc builds the new file content from the current remote content.
// remote is nil when the file does not exist yet. It may be invoked once per
// attempt, so it must be safe to re-run against fresher remote state.
type MergeFunc func(remote []byte) ([]byte, error)

// WriteMerged performs read-merge-write against path, retrying on version
// conflicts and transient failures per the policy. After exhausting attempts
// the last conflict surfaces to the caller as a fatal error for the operation.
func WriteMerged(ctx context.Context, s Store, pol RetryPolicy, path string, merge MergeFunc, message string) error {
	if pol.Attempts == 0 {
		pol = DefaultRetry
	}
	backoff := retry.WithMaxRetries(pol.Attempts-1, retry.NewExponential(pol.Backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		cur, err := s.Read(ctx, path)
		if err != nil {
			if errors.Is(err, errs.ErrTransient) {
				return retry.RetryableError(err)
			}
			return err
		}
		data, err := merge(cur)
		if err != nil {
			return err
		}
		if err := s.Write(ctx, path, data, message); err != nil {
			if errors.Is(err, errs.ErrConflict) || errors.Is(err, errs.ErrTransient) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
