package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/webhook"
)

// WebhookSource names billing events on the queue.
const WebhookSource = "stripe"

// SignatureHeader carries the billing webhook signature.
const SignatureHeader = "Stripe-Signature"

// Verifier adapts the provider's webhook parsing to webhook.Verifier.
func Verifier(p BillingProvider) webhook.Verifier {
	return webhook.VerifierFunc(func(r *http.Request, body []byte) (webhook.Event, error) {
		ev, err := p.ParseWebhook(body, r.Header.Get(SignatureHeader))
		if err != nil {
			return webhook.Event{}, err
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return webhook.Event{}, err
		}
		return webhook.Event{
			ID:         ev.ID,
			Type:       ev.Type,
			Source:     WebhookSource,
			Payload:    payload,
			ReceivedAt: ev.Created,
		}, nil
	})
}

// WebhookHandlers is the dispatch table for billing events.
func (s *Service) WebhookHandlers() map[string]webhook.HandlerFunc {
	syncing := s.typed(s.onSubscriptionChanged)
	return map[string]webhook.HandlerFunc{
		EventCheckoutCompleted:    syncing,
		EventSubscriptionCreated:  syncing,
		EventSubscriptionUpdated:  syncing,
		EventSubscriptionDeleted:  syncing,
		EventInvoicePaid:          syncing,
		EventScheduleCanceled:     syncing,
		EventScheduleReleased:     syncing,
		EventScheduleCompleted:    syncing,
		EventInvoicePaymentFailed: s.typed(s.onPaymentFailed),
		EventCustomerDeleted:      s.typed(s.onCustomerDeleted),
	}
}

func (s *Service) typed(fn func(context.Context, *Event) error) webhook.HandlerFunc {
	return func(ctx context.Context, ev webhook.Event) error {
		var e Event
		if err := ev.Decode(&e); err != nil {
			return fmt.Errorf("decode billing event: %w", err)
		}
		return fn(ctx, &e)
	}
}

// HandleEvent dispatches a single billing event outside the queue.
func (s *Service) HandleEvent(ctx context.Context, ev *Event) error {
	fn, ok := s.WebhookHandlers()[ev.Type]
	if !ok {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return fn(ctx, webhook.Event{ID: ev.ID, Type: ev.Type, Source: WebhookSource, Payload: payload})
}

// onSubscriptionChanged links the customer when the event names the user,
// then re-derives the record from the provider.
func (s *Service) onSubscriptionChanged(ctx context.Context, ev *Event) error {
	userID, err := s.resolveUser(ctx, ev)
	if err != nil {
		return err
	}
	if userID == "" {
		s.log.WarnContext(ctx, "billing event for unknown customer ignored",
			logger.EventID(ev.ID), logger.EventType(ev.Type), logger.CustomerID(ev.CustomerID))
		return nil
	}
	if _, err := s.Sync(ctx, userID); err != nil {
		return err
	}
	s.notify(ctx, userID)
	return nil
}

func (s *Service) onPaymentFailed(ctx context.Context, ev *Event) error {
	userID, err := s.resolveUser(ctx, ev)
	if err != nil {
		return err
	}
	s.log.WarnContext(ctx, "invoice payment failed",
		logger.UserID(userID), logger.CustomerID(ev.CustomerID), logger.SubscriptionID(ev.SubscriptionID))
	if userID != "" {
		s.notify(ctx, userID)
	}
	return nil
}

func (s *Service) onCustomerDeleted(ctx context.Context, ev *Event) error {
	r, err := s.store.GetByCustomer(ctx, ev.CustomerID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.CustomerID = ""
	r.Downgrade()
	if err := s.store.Save(ctx, r); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "billing customer deleted, user downgraded",
		logger.UserID(r.UserID), logger.CustomerID(ev.CustomerID))
	s.notify(ctx, r.UserID)
	return nil
}

// resolveUser finds the user of an event: the customer pointer first, then
// the user id carried in metadata, linking the customer to that user.
func (s *Service) resolveUser(ctx context.Context, ev *Event) (string, error) {
	if ev.CustomerID != "" {
		r, err := s.store.GetByCustomer(ctx, ev.CustomerID)
		if err == nil {
			return r.UserID, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return "", err
		}
	}
	if ev.UserID == "" {
		return "", nil
	}
	r, err := s.EnsureRecord(ctx, ev.UserID)
	if err != nil {
		return "", err
	}
	if ev.CustomerID != "" && r.CustomerID != ev.CustomerID {
		r.CustomerID = ev.CustomerID
		if err := s.store.Save(ctx, r); err != nil {
			return "", err
		}
		s.log.InfoContext(ctx, "billing customer linked",
			logger.UserID(r.UserID), logger.CustomerID(ev.CustomerID))
	}
	return r.UserID, nil
}
