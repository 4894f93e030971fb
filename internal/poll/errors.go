package poll

import "errors"

var (
	ErrNoCandidates        = errors.New("no date candidates found")
	ErrPollNotFound        = errors.New("poll not found")
	ErrNoMatchingCandidate = errors.New("no matching candidate")

	// ErrStoreUnavailable wraps storage failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrGatewayUnavailable wraps chat gateway failures.
	ErrGatewayUnavailable = errors.New("chat gateway unavailable")
)
