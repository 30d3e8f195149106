package jobqueue

import "errors"

var (
	// ErrNoJob is returned by Claim when a queue has nothing claimable.
	ErrNoJob = errors.New("no job available")
	// ErrJobNotFound is returned when a job id is unknown or no longer active.
	ErrJobNotFound = errors.New("job not found")
	// ErrPermanent marks a handler error that redelivery cannot fix. The job
	// fails at once regardless of its remaining attempts.
	ErrPermanent = errors.New("permanent failure")
)
