package queue

import "errors"

// ErrClaimConflict is returned by Store.ClaimNextPending when a concurrent
// claim invalidated this one. It is never surfaced to users; the scheduler
// retries immediately.
var ErrClaimConflict = errors.New("queue: claim conflict")

// ValidationError reports a rejected submission. No jobs are created when a
// submission fails validation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidationError reports whether err is a submission validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
