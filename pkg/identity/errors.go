package identity

import "errors"

var (
	ErrEmptyUserID    = errors.New("identity: empty user id")
	ErrUserNotFound   = errors.New("identity: user not found")
	ErrBackend        = errors.New("identity: backend request failed")
	ErrMissingAPIKey  = errors.New("identity: missing backend secret key")
	ErrInvalidPayload = errors.New("identity: invalid user event payload")
)
