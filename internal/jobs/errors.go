package jobs

import "errors"

// Sentinel errors used to classify pipeline failures. Wrap one of these into
// the error chain (fmt.Errorf("%w: ...", jobs.ErrValidation)) and the worker
// pool maps the failure to retry-with-backoff or permanent dead-letter.
var (
	// ErrTransient marks failures worth retrying (network, timeouts).
	ErrTransient = errors.New("transient failure")

	// ErrExternalTool marks subprocess/collaborator tool failures. Retryable.
	ErrExternalTool = errors.New("external tool error")

	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing referenced entity. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrLeaseLost is returned by store writes when the caller no longer
	// holds the job lease.
	ErrLeaseLost = errors.New("job lease lost")
)

// Retryable reports whether a pipeline error should send the job back to the
// queue. Validation failures and missing entities are permanent; errors that
// classify themselves via IsRetryable (collaborator HTTP errors) are asked;
// everything else is assumed transient and retried up to the attempt limit.
func Retryable(err error) bool {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return false
	}
	var classifier interface{ IsRetryable() bool }
	if errors.As(err, &classifier) {
		return classifier.IsRetryable()
	}
	return true
}
