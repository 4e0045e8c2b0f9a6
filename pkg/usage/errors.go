package usage

import "errors"

var (
	ErrUnknownFeature = errors.New("unknown usage feature")
	ErrInvalidAmount  = errors.New("usage amount must be positive")
	ErrEmptyUserID    = errors.New("user id is required")
	ErrStoreRead      = errors.New("failed to read usage counter")
	ErrStoreWrite     = errors.New("failed to write usage counter")
)
