package reconcile

import "errors"

var (
	// ErrMissingExternalID rejects an event with no dedup key; applying it
	// could never be made idempotent.
	ErrMissingExternalID = errors.New("event has no external ID")

	// ErrUnknownEventType marks an event the dispatch does not handle.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrUnknownUser marks an event that cannot be attributed to any
	// subscription row. Integrity violation: logged with full payload,
	// never recorded as processed.
	ErrUnknownUser = errors.New("event references unknown user")

	// ErrDuplicateEvent is returned by audit logs on an external ID that
	// was already recorded.
	ErrDuplicateEvent = errors.New("event already processed")
)
