package dispatch

import "errors"

// Sentinel errors for the dispatch service.
var (
	ErrNothingToRetry = errors.New("no failed events to retry")
)
