package quota

import "errors"

var (
	// ErrFailedToCount indicates the ledger backend could not record the
	// increment. Callers should fail the request rather than allow
	// unmetered usage.
	ErrFailedToCount = errors.New("failed to count usage")
	// ErrFailedToReadUsage indicates the ledger backend could not report
	// current counters.
	ErrFailedToReadUsage = errors.New("failed to read usage")
	// ErrUnknownResource is returned for a resource the plan catalog has
	// never heard of.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrInvalidIncrement is returned for a zero or negative consumption
	// request.
	ErrInvalidIncrement = errors.New("increment must be positive")
)
