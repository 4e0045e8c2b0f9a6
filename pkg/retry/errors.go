package retry

import "errors"

// ErrAttemptsExhausted is joined with the last error when every attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")
