package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/notify"
)

// EventSubscriptionChanged is published to the user's channel after any change.
const EventSubscriptionChanged = "subscription-updated"

// Directory looks up contact details for a user.
type Directory interface {
	Contact(ctx context.Context, userID string) (Contact, error)
}

// Notifier publishes refetch signals.
type Notifier interface {
	Trigger(ctx context.Context, channel, event string) error
}

// Service reconciles local subscription records with the billing provider.
type Service struct {
	store      *CachedStore
	provider   BillingProvider
	catalog    *Catalog
	directory  Directory
	notifier   Notifier
	log        *slog.Logger
	now        func() time.Time
	infoTTL    time.Duration
	infoJitter time.Duration
}

type ServiceOption func(*Service)

func WithCatalog(c *Catalog) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

func WithDirectory(d Directory) ServiceOption {
	return func(s *Service) { s.directory = d }
}

func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithInfoCache sets the info cache TTL and the random spread applied to it.
func WithInfoCache(ttl, jitter time.Duration) ServiceOption {
	return func(s *Service) {
		s.infoTTL = ttl
		s.infoJitter = jitter
	}
}

func NewService(store *CachedStore, provider BillingProvider, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		provider:   provider,
		catalog:    DefaultCatalog(),
		log:        logger.Discard(),
		now:        func() time.Time { return time.Now().UTC() },
		infoTTL:    5 * time.Minute,
		infoJitter: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscription"))
	return s
}

func (s *Service) Catalog() *Catalog { return s.catalog }

// EnsureRecord returns the user's record, creating a basic one on first use.
func (s *Service) EnsureRecord(ctx context.Context, userID string) (*Record, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	r, err := s.store.Get(ctx, userID)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}
	r = NewBasicRecord(userID, s.now())
	if err := s.store.Save(ctx, r); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "subscription record created", logger.UserID(userID))
	return r, nil
}

// Tier answers from the KV cache and falls back to the store, repairing the
// cache on the way. Users without a record are basic.
func (s *Service) Tier(ctx context.Context, userID string) (Tier, error) {
	if userID == "" {
		return TierBasic, ErrEmptyUserID
	}
	if t, ok, err := s.store.CachedTier(ctx, userID); err == nil && ok {
		return t, nil
	} else if err != nil {
		s.log.WarnContext(ctx, "tier cache read failed", logger.UserID(userID), logger.Error(err))
	}

	r, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return TierBasic, nil
	}
	if err != nil {
		return TierBasic, err
	}
	if err := s.store.Refresh(ctx, r); err != nil {
		s.log.WarnContext(ctx, "tier cache repair failed", logger.UserID(userID), logger.Error(err))
	}
	return r.Tier, nil
}

// Info returns the user-facing summary, cached for about infoTTL.
func (s *Service) Info(ctx context.Context, userID string) (Info, error) {
	if userID == "" {
		return Info{}, ErrEmptyUserID
	}
	if raw, ok, err := s.store.kv.Get(ctx, InfoKey(userID)); err == nil && ok {
		var info Info
		if json.Unmarshal([]byte(raw), &info) == nil {
			return info, nil
		}
	}

	r, err := s.EnsureRecord(ctx, userID)
	if err != nil {
		return Info{}, err
	}
	info := r.Info()
	if raw, err := json.Marshal(info); err == nil {
		if err := s.store.kv.Set(ctx, InfoKey(userID), string(raw), s.infoExpiry()); err != nil {
			s.log.WarnContext(ctx, "info cache write failed", logger.UserID(userID), logger.Error(err))
		}
	}
	return info, nil
}

func (s *Service) infoExpiry() time.Duration {
	if s.infoJitter <= 0 {
		return s.infoTTL
	}
	spread := rand.Int64N(int64(2*s.infoJitter)+1) - int64(s.infoJitter)
	return max(s.infoTTL+time.Duration(spread), time.Second)
}

// EnsureCustomer returns a billing customer for the user. A cached pointer to
// a customer the provider no longer knows is dropped together with the paid
// state and a fresh customer is created.
func (s *Service) EnsureCustomer(ctx context.Context, userID string) (string, error) {
	r, err := s.EnsureRecord(ctx, userID)
	if err != nil {
		return "", err
	}
	if r.CustomerID != "" {
		_, err := s.provider.GetCustomer(ctx, r.CustomerID)
		if err == nil {
			return r.CustomerID, nil
		}
		if !IsResourceMissing(err) {
			return "", err
		}
		s.log.WarnContext(ctx, "billing customer missing, recreating",
			logger.UserID(userID), logger.CustomerID(r.CustomerID))
		r.CustomerID = ""
		r.Downgrade()
		if err := s.store.Save(ctx, r); err != nil {
			return "", err
		}
	}

	var contact Contact
	if s.directory != nil {
		c, err := s.directory.Contact(ctx, userID)
		if err != nil {
			s.log.WarnContext(ctx, "contact lookup failed", logger.UserID(userID), logger.Error(err))
		} else {
			contact = c
		}
	}
	c, err := s.provider.CreateCustomer(ctx, userID, contact)
	if err != nil {
		return "", err
	}
	r.CustomerID = c.ID
	if err := s.store.Save(ctx, r); err != nil {
		return "", err
	}
	s.log.InfoContext(ctx, "billing customer created", logger.UserID(userID), logger.CustomerID(c.ID))
	return c.ID, nil
}

// CreateCheckout starts a hosted checkout for a paid tier and returns its URL.
func (s *Service) CreateCheckout(ctx context.Context, userID string, tier Tier, successURL, cancelURL string) (string, error) {
	r, err := s.EnsureRecord(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := checkTransition(r, ActionCheckout); err != nil {
		return "", errors.Join(ErrAlreadySubscribed, err)
	}
	price, err := s.catalog.PriceFor(tier)
	if err != nil {
		return "", err
	}
	customerID, err := s.EnsureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	// The local record may lag behind a checkout whose webhook is still queued.
	live, err := s.provider.ActiveSubscription(ctx, customerID)
	if err != nil {
		return "", err
	}
	if live != nil {
		if _, err := s.Sync(ctx, userID); err != nil {
			s.log.WarnContext(ctx, "sync before checkout failed", logger.UserID(userID), logger.Error(err))
		}
		return "", ErrAlreadySubscribed
	}

	return s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		UserID:     userID,
		CustomerID: customerID,
		PriceID:    price,
		Tier:       tier,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
}

// CreatePortal returns a billing portal URL for the user.
func (s *Service) CreatePortal(ctx context.Context, userID, returnURL string) (string, error) {
	customerID, err := s.EnsureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.provider.CreatePortalSession(ctx, customerID, returnURL)
}

// ScheduleChange moves the user to target at the end of the billing period.
// Any previously scheduled change is released first. Moving to basic is a
// cancellation.
func (s *Service) ScheduleChange(ctx context.Context, userID string, target Tier) (Info, error) {
	if !target.Valid() {
		return Info{}, ErrUnknownTier
	}
	if !target.Paid() {
		return s.Cancel(ctx, userID)
	}
	r, err := s.EnsureRecord(ctx, userID)
	if err != nil {
		return Info{}, err
	}
	if err := checkTransition(r, ActionChange); err != nil {
		return Info{}, err
	}
	if pending, ok := r.Pending(); ok && pending == target {
		return r.Info(), nil
	}
	if target == r.Tier {
		if _, ok := r.Pending(); ok {
			return s.CancelPendingChange(ctx, userID)
		}
		return Info{}, ErrSameTier
	}
	price, err := s.catalog.PriceFor(target)
	if err != nil {
		return Info{}, err
	}

	sub, err := s.liveSubscription(ctx, r)
	if err != nil {
		return Info{}, err
	}
	if err := s.releaseSchedules(ctx, r, sub); err != nil {
		return Info{}, err
	}

	scheduleID, err := s.provider.SchedulePriceChange(ctx, sub, price)
	if err != nil {
		return Info{}, err
	}
	r.SetPending(target)
	r.ScheduleID = scheduleID
	r.SubscriptionID = sub.ID
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		r.NextBillingDate = &end
	}
	if err := s.store.Save(ctx, r); err != nil {
		return Info{}, err
	}
	s.log.InfoContext(ctx, "subscription change scheduled",
		logger.UserID(userID), logger.Tier(string(r.Tier)), slog.String("target_tier", string(target)))
	s.notify(ctx, userID)
	return r.Info(), nil
}

// CancelPendingChange drops a scheduled change, releasing its schedule.
func (s *Service) CancelPendingChange(ctx context.Context, userID string) (Info, error) {
	r, err := s.EnsureRecord(ctx, userID)
	if err != nil {
		return Info{}, err
	}
	if err := checkTransition(r, ActionCancelPending); err != nil {
		return Info{}, err
	}
	if err := s.release(ctx, r.ScheduleID); err != nil {
		return Info{}, err
	}
	r.ClearPending()
	if err := s.store.Save(ctx, r); err != nil {
		return Info{}, err
	}
	s.log.InfoContext(ctx, "pending subscription change canceled", logger.UserID(userID))
	s.notify(ctx, userID)
	return r.Info(), nil
}

// Cancel stops renewal at period end. Schedules on the subscription are
// released first, including one whose change already applied, since the
// provider refuses to cancel a subscription a schedule still manages.
func (s *Service) Cancel(ctx context.Context, userID string) (Info, error) {
	r, err := s.EnsureRecord(ctx, userID)
	if err != nil {
		return Info{}, err
	}
	if err := checkTransition(r, ActionCancel); err != nil {
		return Info{}, err
	}
	sub, err := s.liveSubscription(ctx, r)
	if err != nil {
		return Info{}, err
	}
	if err := s.releaseSchedules(ctx, r, sub); err != nil {
		return Info{}, err
	}
	r.ClearPending()
	sub, err = s.provider.SetCancelAtPeriodEnd(ctx, sub.ID, true)
	if err != nil {
		return Info{}, err
	}
	r.Status = StatusCanceling
	r.SubscriptionID = sub.ID
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		r.NextBillingDate = &end
	}
	if err := s.store.Save(ctx, r); err != nil {
		return Info{}, err
	}
	s.log.InfoContext(ctx, "subscription set to cancel at period end", logger.UserID(userID), logger.SubscriptionID(sub.ID))
	s.notify(ctx, userID)
	return r.Info(), nil
}

// Renew undoes a cancellation that has not taken effect yet.
func (s *Service) Renew(ctx context.Context, userID string) (Info, error) {
	r, err := s.EnsureRecord(ctx, userID)
	if err != nil {
		return Info{}, err
	}
	if err := checkTransition(r, ActionRenew); err != nil {
		return Info{}, err
	}
	subID, err := s.subscriptionID(ctx, r)
	if err != nil {
		return Info{}, err
	}
	sub, err := s.provider.SetCancelAtPeriodEnd(ctx, subID, false)
	if err != nil {
		return Info{}, err
	}
	r.Status = StatusActive
	r.SubscriptionID = sub.ID
	if err := s.store.Save(ctx, r); err != nil {
		return Info{}, err
	}
	s.log.InfoContext(ctx, "subscription renewed", logger.UserID(userID), logger.SubscriptionID(sub.ID))
	s.notify(ctx, userID)
	return r.Info(), nil
}

// Sync re-derives the record from the provider's live subscription.
func (s *Service) Sync(ctx context.Context, userID string) (Info, error) {
	r, err := s.EnsureRecord(ctx, userID)
	if err != nil {
		return Info{}, err
	}
	before := r.Clone()

	if r.CustomerID == "" {
		r.Downgrade()
	} else {
		sub, err := s.provider.ActiveSubscription(ctx, r.CustomerID)
		switch {
		case IsResourceMissing(err):
			s.log.WarnContext(ctx, "billing customer missing during sync",
				logger.UserID(userID), logger.CustomerID(r.CustomerID))
			r.CustomerID = ""
			r.Downgrade()
		case err != nil:
			return Info{}, err
		case sub == nil:
			r.Downgrade()
		default:
			applySubscription(r, sub)
		}
	}

	if !sameRecord(before, r) {
		if err := s.store.Save(ctx, r); err != nil {
			return Info{}, err
		}
		s.log.InfoContext(ctx, "subscription synced",
			logger.UserID(userID), logger.Tier(string(r.Tier)), slog.String("status", string(r.Status)))
	}
	return r.Info(), nil
}

// DeleteUser removes the user's record and cached state.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	return s.store.Delete(ctx, userID)
}

// DuePending lists users whose pending change should have applied by now.
func (s *Service) DuePending(ctx context.Context) ([]string, error) {
	records, err := s.store.ListPending(ctx, s.now())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.UserID)
	}
	return ids, nil
}

// applySubscription copies the provider state into the record. A pending
// change survives only while its schedule exists and has not applied yet.
func applySubscription(r *Record, sub *ProviderSubscription) {
	r.Tier = sub.Tier
	r.SubscriptionID = sub.ID
	if sub.CustomerID != "" {
		r.CustomerID = sub.CustomerID
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		r.NextBillingDate = &end
	}
	r.Status = StatusActive
	if sub.CancelAtPeriodEnd {
		r.Status = StatusCanceling
	}

	pending, ok := r.Pending()
	switch {
	case !ok:
		r.ScheduleID = ""
	case sub.ScheduleID == "" || sub.Tier == pending || sub.CancelAtPeriodEnd:
		r.ClearPending()
	default:
		r.SetPending(pending)
		r.ScheduleID = sub.ScheduleID
	}
}

func (s *Service) liveSubscription(ctx context.Context, r *Record) (*ProviderSubscription, error) {
	if r.SubscriptionID != "" {
		sub, err := s.provider.GetSubscription(ctx, r.SubscriptionID)
		if err == nil && sub.Live() {
			return sub, nil
		}
		if err != nil && !IsResourceMissing(err) {
			return nil, err
		}
	}
	if r.CustomerID == "" {
		return nil, ErrNoActiveSubscription
	}
	sub, err := s.provider.ActiveSubscription(ctx, r.CustomerID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoActiveSubscription
	}
	return sub, nil
}

func (s *Service) subscriptionID(ctx context.Context, r *Record) (string, error) {
	if r.SubscriptionID != "" {
		return r.SubscriptionID, nil
	}
	sub, err := s.liveSubscription(ctx, r)
	if err != nil {
		return "", err
	}
	return sub.ID, nil
}

// releaseSchedules frees the record's schedule and the one attached to the
// live subscription. The record is saved without its pending change right
// after its schedule is gone, so a retried call never releases it twice.
func (s *Service) releaseSchedules(ctx context.Context, r *Record, sub *ProviderSubscription) error {
	for _, id := range uniqueNonEmpty(r.ScheduleID, sub.ScheduleID) {
		if err := s.release(ctx, id); err != nil {
			return err
		}
		if id != r.ScheduleID {
			continue
		}
		r.ClearPending()
		if err := s.store.Save(ctx, r); err != nil {
			return err
		}
	}
	sub.ScheduleID = ""
	return nil
}

// release frees a schedule; one that is already gone counts as released.
func (s *Service) release(ctx context.Context, scheduleID string) error {
	if scheduleID == "" {
		return nil
	}
	err := s.provider.ReleaseSchedule(ctx, scheduleID)
	if err != nil && !IsResourceMissing(err) {
		return err
	}
	return nil
}

func (s *Service) notify(ctx context.Context, userID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Trigger(ctx, notify.UserChannel(userID), EventSubscriptionChanged); err != nil {
		s.log.WarnContext(ctx, "subscription notification failed", logger.UserID(userID), logger.Error(err))
	}
}

func sameRecord(a, b *Record) bool {
	pa, oka := a.Pending()
	pb, okb := b.Pending()
	return a.Tier == b.Tier && a.Status == b.Status &&
		oka == okb && pa == pb &&
		(a.PendingUpgrade == nil) == (b.PendingUpgrade == nil) &&
		a.CustomerID == b.CustomerID && a.SubscriptionID == b.SubscriptionID &&
		a.ScheduleID == b.ScheduleID && timeEqual(a.NextBillingDate, b.NextBillingDate)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func uniqueNonEmpty(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		dup := false
		for _, o := range out {
			dup = dup || o == id
		}
		if !dup {
			out = append(out, id)
		}
	}
	return out
}
