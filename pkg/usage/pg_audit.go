package usage

import (
	"context"
	"time"

	"github.com/dmitrymomot/pixelmint/pkg/pg"
)

// PgAudit upserts counters into the usage_tracking table.
type PgAudit struct {
	db pg.DBTX
}

func NewPgAudit(db pg.DBTX) *PgAudit {
	return &PgAudit{db: db}
}

func (a *PgAudit) Record(ctx context.Context, userID string, f Feature, periodStart time.Time, c Counter) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO usage_tracking (clerk_id, feature, period_start, count, total, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (clerk_id, feature) DO UPDATE SET
			period_start = EXCLUDED.period_start,
			count = EXCLUDED.count,
			total = GREATEST(usage_tracking.total, EXCLUDED.total),
			updated_at = now()`,
		userID, string(f), periodStart, c.Count, c.Total,
	)
	return err
}

func (a *PgAudit) DeleteUser(ctx context.Context, userID string) error {
	_, err := a.db.Exec(ctx, `DELETE FROM usage_tracking WHERE clerk_id = $1`, userID)
	return err
}
