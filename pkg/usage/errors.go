package usage

import "errors"

var (
	// ErrLimitExceeded is the expected denial, not a bug: the caller is
	// supposed to surface an upgrade prompt.
	ErrLimitExceeded = errors.New("usage limit exceeded")

	ErrInvalidAmount    = errors.New("usage amount must be positive")
	ErrFailedToCount    = errors.New("failed to read usage counters")
	ErrFailedToConsume  = errors.New("failed to record usage")
	ErrFailedToRollover = errors.New("failed to roll billing period forward")
)
