package inference

import "errors"

var (
	ErrMissingURL   = errors.New("inference: missing API url")
	ErrEmptyPrompt  = errors.New("inference: empty prompt")
	ErrEmptyImage   = errors.New("inference: empty image")
	ErrInvalidScale = errors.New("inference: invalid upscale factor")
	ErrCircuitOpen  = errors.New("inference: backend circuit open")
	ErrRejected     = errors.New("inference: request rejected")
	ErrUnavailable  = errors.New("inference: backend unavailable")
	ErrTimeout      = errors.New("inference: request timed out")
	ErrBadResponse  = errors.New("inference: malformed response")
)
