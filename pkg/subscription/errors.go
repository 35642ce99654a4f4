package subscription

import "errors"

var (
	ErrNotFound        = errors.New("subscription not found")
	ErrAlreadyExists   = errors.New("subscription already exists")
	ErrVersionConflict = errors.New("subscription version conflict")
)
