package plan

import "errors"

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPlanInactive         = errors.New("plan is not active")
	ErrInvalidConfiguration = errors.New("invalid plan configuration")
	ErrFailedToLoadCatalog  = errors.New("failed to load plan catalog")
)
