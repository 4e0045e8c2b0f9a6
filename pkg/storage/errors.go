package storage

import "errors"

var (
	ErrInvalidConfig      = errors.New("storage: invalid configuration")
	ErrLoadConfig         = errors.New("storage: failed to load AWS config")
	ErrEmptyUserID        = errors.New("storage: empty user id")
	ErrEmptyImage         = errors.New("storage: empty image")
	ErrUnsupportedImage   = errors.New("storage: unsupported image format")
	ErrNotFound           = errors.New("storage: object not found")
	ErrBucketNotFound     = errors.New("storage: bucket not found")
	ErrAccessDenied       = errors.New("storage: access denied")
	ErrServiceUnavailable = errors.New("storage: service temporarily unavailable")
	ErrTimeout            = errors.New("storage: operation timed out")
)
