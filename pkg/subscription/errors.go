package subscription

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnknownTier          = errors.New("unknown subscription tier")
	ErrInvalidCatalog       = errors.New("invalid plan catalog")
	ErrTierNotPurchasable   = errors.New("tier cannot be purchased")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNoActiveSubscription = errors.New("no active billing subscription")
	ErrAlreadySubscribed    = errors.New("user already has an active subscription")
	ErrInvalidTransition    = errors.New("subscription change not allowed in current state")
	ErrSameTier             = errors.New("already on the requested tier")
	ErrEmptyUserID          = errors.New("user id is required")
	ErrUnknownCustomer      = errors.New("billing customer is not linked to any user")
	ErrMissingAPIKey        = errors.New("stripe secret key is required")
	ErrMissingWebhookSecret = errors.New("stripe webhook secret is required")
	ErrWebhookVerification  = errors.New("webhook signature verification failed")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from provider")
	ErrCustomerConflict     = errors.New("billing customer already linked to another user")
	ErrCacheRebuild         = errors.New("failed to rebuild subscription cache")
)

// Provider error codes the reconciler reacts to.
const (
	CodeResourceMissing = "resource_missing"
)

// ProviderError is a classified billing provider failure.
type ProviderError struct {
	Code    string // provider error code, e.g. resource_missing
	Status  int    // HTTP status returned by the provider, 0 for transport errors
	Message string // provider message, safe to show to users
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("billing provider error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("billing provider error %d: %s", e.Status, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsResourceMissing reports whether err means the referenced provider object no longer exists.
func IsResourceMissing(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == CodeResourceMissing
}

// IsClientError reports provider rejections caused by the request itself (4xx).
func IsClientError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Status >= 400 && pe.Status < 500 && pe.Status != http.StatusTooManyRequests
}

// IsRetryable reports whether repeating the call may succeed: transport errors,
// rate limiting and provider 5xx. Domain errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status == 0 || pe.Status == http.StatusTooManyRequests || pe.Status >= 500
	}
	for _, domain := range []error{
		ErrInvalidTransition, ErrSameTier, ErrAlreadySubscribed, ErrNoActiveSubscription,
		ErrTierNotPurchasable, ErrUnknownTier, ErrEmptyUserID, ErrSubscriptionNotFound,
	} {
		if errors.Is(err, domain) {
			return false
		}
	}
	return true
}
