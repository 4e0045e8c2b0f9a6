package webhook

import "errors"

var (
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrPayloadTooLarge      = errors.New("webhook payload too large")
	ErrEnqueueFailed        = errors.New("failed to enqueue webhook event")
	ErrDuplicateHandler     = errors.New("handler already registered for event type")
)
