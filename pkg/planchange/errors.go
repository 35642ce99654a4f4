package planchange

import "errors"

var (
	// ErrAlreadyCurrent rejects a request for the plan and interval the
	// user already has. Nothing is mutated.
	ErrAlreadyCurrent = errors.New("requested plan is already current")

	// ErrNoPendingChange rejects a cancel when nothing is pending.
	ErrNoPendingChange = errors.New("no pending plan change")

	ErrInvalidInterval   = errors.New("invalid billing interval")
	ErrTargetNotOffered  = errors.New("target plan is not offered")
	ErrPendingChangeOpen = errors.New("a pending plan change already exists")
)
