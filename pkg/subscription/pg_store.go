package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/pixelmint/pkg/pg"
)

const recordColumns = `clerk_id, plan, status, pending_upgrade, pending_downgrade,
	stripe_customer_id, stripe_subscription_id, stripe_schedule_id,
	next_billing_date, created_at, updated_at`

// PgStore keeps records in the subscriptions table.
type PgStore struct {
	db pg.DBTX
}

func NewPgStore(db pg.DBTX) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Get(ctx context.Context, userID string) (*Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM subscriptions WHERE clerk_id = $1`, userID)
	return scanRecord(row)
}

func (s *PgStore) GetByCustomer(ctx context.Context, customerID string) (*Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM subscriptions WHERE stripe_customer_id = $1`, customerID)
	return scanRecord(row)
}

func (s *PgStore) Save(ctx context.Context, r *Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (clerk_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			pending_upgrade = EXCLUDED.pending_upgrade,
			pending_downgrade = EXCLUDED.pending_downgrade,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			stripe_schedule_id = EXCLUDED.stripe_schedule_id,
			next_billing_date = EXCLUDED.next_billing_date,
			updated_at = now()`,
		r.UserID, string(r.Tier), string(r.Status),
		tierPtr(r.PendingUpgrade), tierPtr(r.PendingDowngrade),
		nullString(r.CustomerID), nullString(r.SubscriptionID), nullString(r.ScheduleID),
		r.NextBillingDate, createdAt(r),
	)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(ErrCustomerConflict, err)
	}
	return err
}

func (s *PgStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM subscriptions WHERE clerk_id = $1`, userID)
	return err
}

func (s *PgStore) ListPending(ctx context.Context, dueBefore time.Time) ([]*Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+` FROM subscriptions
		WHERE (pending_upgrade IS NOT NULL OR pending_downgrade IS NOT NULL)
			AND next_billing_date < $1
		ORDER BY clerk_id`, dueBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) All(ctx context.Context, fn func(*Record) error) error {
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM subscriptions ORDER BY clerk_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r                             Record
		tier, status                  string
		upgrade, downgrade            *string
		customer, subscription, sched *string
	)
	err := row.Scan(&r.UserID, &tier, &status, &upgrade, &downgrade,
		&customer, &subscription, &sched, &r.NextBillingDate, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	r.Tier = Tier(tier)
	r.Status = Status(status)
	r.PendingUpgrade = toTier(upgrade)
	r.PendingDowngrade = toTier(downgrade)
	r.CustomerID = deref(customer)
	r.SubscriptionID = deref(subscription)
	r.ScheduleID = deref(sched)
	return &r, nil
}

func tierPtr(t *Tier) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func toTier(s *string) *Tier {
	if s == nil {
		return nil
	}
	t := Tier(*s)
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func createdAt(r *Record) time.Time {
	if r.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return r.CreatedAt
}
