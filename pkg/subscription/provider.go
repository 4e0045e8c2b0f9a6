package subscription

import (
	"context"
	"time"
)

// MetadataUserKey links billing objects back to the identity provider user.
const MetadataUserKey = "clerk_id"

// BillingProvider is the subset of the billing API the reconciler drives.
// Implementations return *ProviderError for classified provider failures.
type BillingProvider interface {
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	CreateCustomer(ctx context.Context, userID string, contact Contact) (*Customer, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	// ActiveSubscription returns the customer's live subscription, or nil when there is none.
	ActiveSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*ProviderSubscription, error)

	// SchedulePriceChange moves the subscription to priceID at the end of the
	// current period and returns the schedule id.
	SchedulePriceChange(ctx context.Context, sub *ProviderSubscription, priceID string) (string, error)
	ReleaseSchedule(ctx context.Context, scheduleID string) error

	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// Contact details used when creating a billing customer.
type Contact struct {
	Email string
	Name  string
}

type Customer struct {
	ID      string
	Email   string
	Deleted bool
}

// ProviderSubscription is the provider's view, with the tier already resolved.
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	Tier              Tier
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	ScheduleID        string
}

// Live reports whether the subscription still grants its tier.
func (s *ProviderSubscription) Live() bool {
	switch s.Status {
	case "active", "trialing", "past_due":
		return true
	}
	return false
}

type CheckoutParams struct {
	UserID     string
	CustomerID string
	PriceID    string
	Tier       Tier
	SuccessURL string
	CancelURL  string
}

// Event is a verified billing webhook reduced to the ids the reconciler needs.
type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Created        time.Time `json:"created"`
	CustomerID     string    `json:"customer_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	ScheduleID     string    `json:"schedule_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
}

// Billing webhook event types handled by the reconciler.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventScheduleCanceled     = "subscription_schedule.canceled"
	EventScheduleReleased     = "subscription_schedule.released"
	EventScheduleCompleted    = "subscription_schedule.completed"
	EventCustomerDeleted      = "customer.deleted"
)
