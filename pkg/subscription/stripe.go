package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

const expandPriceProduct = "items.data.price.product"

// StripeProvider implements BillingProvider on the Stripe API.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	catalog       *Catalog
}

// NewStripeProvider builds the provider. The catalog maps price ids to tiers
// when price and product metadata carry no tier.
func NewStripeProvider(cfg StripeConfig, catalog *Catalog) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &StripeProvider{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		catalog:       catalog,
	}, nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	c, err := p.api.Customers.Get(customerID, &stripe.CustomerParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, wrapStripeError(err)
	}
	if c.Deleted {
		return nil, &ProviderError{Code: CodeResourceMissing, Status: 404, Message: "customer deleted"}
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, userID string, contact Contact) (*Customer, error) {
	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
	if contact.Email != "" {
		params.Email = stripe.String(contact.Email)
	}
	if contact.Name != "" {
		params.Name = stripe.String(contact.Name)
	}
	params.AddMetadata(MetadataUserKey, userID)
	c, err := p.api.Customers.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	params.AddExpand(expandPriceProduct)
	s, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return p.convertSubscription(s), nil
}

func (p *StripeProvider) ActiveSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		ListParams: stripe.ListParams{Context: ctx},
		Customer:   stripe.String(customerID),
	}
	params.AddExpand("data." + expandPriceProduct)
	it := p.api.Subscriptions.List(params)
	for it.Next() {
		sub := p.convertSubscription(it.Subscription())
		if sub.Live() {
			return sub, nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, wrapStripeError(err)
	}
	return nil, nil
}

func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.AddExpand(expandPriceProduct)
	s, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return p.convertSubscription(s), nil
}

// SchedulePriceChange attaches a schedule to the subscription and rewrites it
// into two phases: the current price until the period ends, then the new
// price for one iteration, after which the schedule releases the subscription.
func (p *StripeProvider) SchedulePriceChange(ctx context.Context, sub *ProviderSubscription, priceID string) (string, error) {
	sched, err := p.api.SubscriptionSchedules.New(&stripe.SubscriptionScheduleParams{
		Params:           stripe.Params{Context: ctx},
		FromSubscription: stripe.String(sub.ID),
	})
	if err != nil {
		return "", wrapStripeError(err)
	}

	start := time.Now().Unix()
	if len(sched.Phases) > 0 && sched.Phases[0].StartDate > 0 {
		start = sched.Phases[0].StartDate
	}
	end := sub.CurrentPeriodEnd.Unix()
	if len(sched.Phases) > 0 && sched.Phases[0].EndDate > 0 {
		end = sched.Phases[0].EndDate
	}

	_, err = p.api.SubscriptionSchedules.Update(sched.ID, &stripe.SubscriptionScheduleParams{
		Params:      stripe.Params{Context: ctx},
		EndBehavior: stripe.String(string(stripe.SubscriptionScheduleEndBehaviorRelease)),
		Phases: []*stripe.SubscriptionSchedulePhaseParams{
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{Price: stripe.String(sub.PriceID), Quantity: stripe.Int64(1)},
				},
				StartDate: stripe.Int64(start),
				EndDate:   stripe.Int64(end),
			},
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
				},
				Iterations: stripe.Int64(1),
			},
		},
	})
	if err != nil {
		// Leave no half-configured schedule attached to the subscription.
		_ = p.ReleaseSchedule(context.WithoutCancel(ctx), sched.ID)
		return "", wrapStripeError(err)
	}
	return sched.ID, nil
}

func (p *StripeProvider) ReleaseSchedule(ctx context.Context, scheduleID string) error {
	_, err := p.api.SubscriptionSchedules.Release(scheduleID, &stripe.SubscriptionScheduleReleaseParams{
		Params: stripe.Params{Context: ctx},
	})
	return wrapStripeError(err)
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, cp CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Customer:          stripe.String(cp.CustomerID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(cp.UserID),
		SuccessURL:        stripe.String(cp.SuccessURL),
		CancelURL:         stripe.String(cp.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(cp.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataUserKey: cp.UserID,
				TierMetadataKey: cp.Tier.String(),
			},
		},
	}
	params.AddMetadata(MetadataUserKey, cp.UserID)
	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", wrapStripeError(err)
	}
	if s.URL == "" {
		return "", ErrNoCheckoutURL
	}
	return s.URL, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	s, err := p.api.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", wrapStripeError(err)
	}
	return s.URL, nil
}

// ParseWebhook verifies the Stripe-Signature header and reduces the event to ids.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerification, err)
	}
	var raw json.RawMessage
	if ev.Data != nil {
		raw = ev.Data.Raw
	}
	return decodeEvent(ev.ID, string(ev.Type), ev.Created, raw)
}

// eventObject covers the fields of the objects carried by handled events.
type eventObject struct {
	Object            string            `json:"object"`
	ID                string            `json:"id"`
	Customer          json.RawMessage   `json:"customer"`
	Subscription      json.RawMessage   `json:"subscription"`
	Schedule          json.RawMessage   `json:"schedule"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

func decodeEvent(id, typ string, created int64, raw json.RawMessage) (*Event, error) {
	ev := &Event{ID: id, Type: typ, Created: time.Unix(created, 0).UTC()}
	if len(raw) == 0 {
		return ev, nil
	}
	var obj eventObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", typ, err)
	}

	ev.UserID = obj.Metadata[MetadataUserKey]
	if obj.ClientReferenceID != "" {
		ev.UserID = obj.ClientReferenceID
	}
	ev.CustomerID = objectID(obj.Customer)
	ev.SubscriptionID = objectID(obj.Subscription)
	ev.ScheduleID = objectID(obj.Schedule)

	switch obj.Object {
	case "customer":
		ev.CustomerID = obj.ID
	case "subscription":
		ev.SubscriptionID = obj.ID
	case "subscription_schedule":
		ev.ScheduleID = obj.ID
	}
	return ev, nil
}

// objectID reads a reference that is either an id string or an expanded object.
func objectID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func (p *StripeProvider) convertSubscription(s *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Tier:              TierBasic,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Schedule != nil {
		out.ScheduleID = s.Schedule.ID
	}
	if s.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(s.CurrentPeriodEnd, 0).UTC()
	}
	if s.Items == nil || len(s.Items.Data) == 0 || s.Items.Data[0].Price == nil {
		return out
	}
	price := s.Items.Data[0].Price
	out.PriceID = price.ID
	out.Tier = p.priceTier(price)
	return out
}

func (p *StripeProvider) priceTier(price *stripe.Price) Tier {
	var productMeta map[string]string
	var productName string
	if price.Product != nil {
		productMeta = price.Product.Metadata
		productName = price.Product.Name
	}
	if _, err := ParseTier(price.Metadata[TierMetadataKey]); err != nil {
		if _, err := ParseTier(productMeta[TierMetadataKey]); err != nil {
			if t, ok := p.catalog.TierForPrice(price.ID); ok {
				return t
			}
		}
	}
	return ResolveTier(price.Metadata, productMeta, productName)
}

func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return &ProviderError{
			Code:    string(se.Code),
			Status:  se.HTTPStatusCode,
			Message: se.Msg,
			Err:     err,
		}
	}
	return &ProviderError{Message: err.Error(), Err: err}
}
