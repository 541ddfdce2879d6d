package dispatch

import "errors"

var (
	// ErrInvalidInput marks local validation failures. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrQueueUnavailable marks adapter failures: the broker could not
	// accept or report on jobs. Retrying is the caller's decision.
	ErrQueueUnavailable = errors.New("queue unavailable")
)
