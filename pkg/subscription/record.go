package subscription

import "time"

// Status of a subscription record.
type Status string

const (
	StatusActive    Status = "active"
	StatusCanceling Status = "canceling"
	StatusInactive  Status = "inactive"
)

// Record is the local view of a user's subscription. Postgres holds it; the
// KV copies are derived from it.
type Record struct {
	UserID           string
	Tier             Tier
	Status           Status
	PendingUpgrade   *Tier
	PendingDowngrade *Tier
	CustomerID       string
	SubscriptionID   string
	ScheduleID       string
	NextBillingDate  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewBasicRecord is the record every user starts with.
func NewBasicRecord(userID string, now time.Time) *Record {
	return &Record{
		UserID:    userID,
		Tier:      TierBasic,
		Status:    StatusInactive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Pending returns the target tier of a scheduled change, if any.
func (r *Record) Pending() (Tier, bool) {
	switch {
	case r.PendingUpgrade != nil:
		return *r.PendingUpgrade, true
	case r.PendingDowngrade != nil:
		return *r.PendingDowngrade, true
	}
	return "", false
}

// SetPending stores target as the pending change, direction decided by rank.
// Only one of the two pending fields is ever set.
func (r *Record) SetPending(target Tier) {
	r.ClearPending()
	t := target
	if target.Rank() > r.Tier.Rank() {
		r.PendingUpgrade = &t
	} else {
		r.PendingDowngrade = &t
	}
}

func (r *Record) ClearPending() {
	r.PendingUpgrade = nil
	r.PendingDowngrade = nil
	r.ScheduleID = ""
}

// Downgrade resets the record to the free tier, keeping the customer pointer.
func (r *Record) Downgrade() {
	r.ClearPending()
	r.Tier = TierBasic
	r.Status = StatusInactive
	r.SubscriptionID = ""
	r.NextBillingDate = nil
}

func (r *Record) Clone() *Record {
	c := *r
	if r.PendingUpgrade != nil {
		t := *r.PendingUpgrade
		c.PendingUpgrade = &t
	}
	if r.PendingDowngrade != nil {
		t := *r.PendingDowngrade
		c.PendingDowngrade = &t
	}
	if r.NextBillingDate != nil {
		d := *r.NextBillingDate
		c.NextBillingDate = &d
	}
	return &c
}

// Info is the user-facing summary of a subscription.
type Info struct {
	Tier              Tier       `json:"tier"`
	Status            Status     `json:"status"`
	State             State      `json:"state"`
	PendingTier       *Tier      `json:"pending_tier,omitempty"`
	NextBillingDate   *time.Time `json:"next_billing_date,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	HasCustomer       bool       `json:"has_customer"`
}

// Info builds the summary from the record.
func (r *Record) Info() Info {
	info := Info{
		Tier:              r.Tier,
		Status:            r.Status,
		State:             r.State(),
		NextBillingDate:   r.NextBillingDate,
		CancelAtPeriodEnd: r.Status == StatusCanceling,
		HasCustomer:       r.CustomerID != "",
	}
	if t, ok := r.Pending(); ok {
		info.PendingTier = &t
	}
	return info
}
