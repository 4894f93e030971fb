package storage

import (
	"context"
	"errors"
)

// ConflictRetries bounds how often RetryConflict reruns a read-modify-write.
const ConflictRetries = 5

// RetryConflict runs fn until it returns something other than ErrConflict,
// the context ends, or ConflictRetries attempts are used up. fn must re-read
// the record on every call.
func RetryConflict(ctx context.Context, fn func() error) error {
	var err error
	for range ConflictRetries {
		if err = fn(); !errors.Is(err, ErrConflict) {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
	}
	return err
}
