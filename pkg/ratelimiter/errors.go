package ratelimiter

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated  = errors.New("user is not authenticated")
	ErrLimitExceeded    = errors.New("usage limit reached")
	ErrStoreUnavailable = errors.New("usage store unavailable")
)

// LimitError reports a refused request together with its quota state.
type LimitError struct {
	Result Result
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit reached for %s tier (%d/%d), resets in %s",
		e.Result.Feature, e.Result.Tier, e.Result.UsageCount, e.Result.Limit, e.Result.ResetsIn)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }
