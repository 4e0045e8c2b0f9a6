package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/redis"
)

// KV key prefixes of the derived subscription cache.
const (
	TierKeyPrefix     = "user_subscription:"
	CustomerKeyPrefix = "stripe_customer:"
	InfoKeyPrefix     = "subscription_info:"
)

func TierKey(userID string) string     { return TierKeyPrefix + userID }
func CustomerKey(userID string) string { return CustomerKeyPrefix + userID }
func InfoKey(userID string) string     { return InfoKeyPrefix + userID }

// CachedStore wraps the relational Store and mirrors tier and customer
// pointers into KV after every committed write. KV is never written anywhere
// else, so it can always be rebuilt from the wrapped store.
type CachedStore struct {
	Store
	kv  *redis.KV
	log *slog.Logger
}

func NewCachedStore(store Store, kv *redis.KV, log *slog.Logger) *CachedStore {
	if log == nil {
		log = logger.Discard()
	}
	return &CachedStore{Store: store, kv: kv, log: log}
}

// Save commits the record, then refreshes the derived keys and drops the info cache.
// A failed cache refresh is logged; readers repair it from the store.
func (s *CachedStore) Save(ctx context.Context, r *Record) error {
	if err := s.Store.Save(ctx, r); err != nil {
		return err
	}
	if err := s.mirror(ctx, r); err != nil {
		s.log.WarnContext(ctx, "subscription cache refresh failed",
			logger.UserID(r.UserID), logger.Error(err))
		_ = s.kv.Del(ctx, TierKey(r.UserID), CustomerKey(r.UserID), InfoKey(r.UserID))
	}
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, userID string) error {
	if err := s.Store.Delete(ctx, userID); err != nil {
		return err
	}
	return s.kv.Del(ctx, TierKey(userID), CustomerKey(userID), InfoKey(userID))
}

// CachedTier reads the derived tier key. ok is false on a miss.
func (s *CachedStore) CachedTier(ctx context.Context, userID string) (Tier, bool, error) {
	v, ok, err := s.kv.Get(ctx, TierKey(userID))
	if err != nil || !ok {
		return "", false, err
	}
	t, err := ParseTier(v)
	if err != nil {
		return "", false, nil
	}
	return t, true, nil
}

// CachedCustomer reads the derived customer pointer.
func (s *CachedStore) CachedCustomer(ctx context.Context, userID string) (string, bool, error) {
	return s.kv.Get(ctx, CustomerKey(userID))
}

// Refresh rewrites the derived keys of one record without touching the store.
func (s *CachedStore) Refresh(ctx context.Context, r *Record) error {
	return s.mirror(ctx, r)
}

// Rebuild repopulates every derived key from the store. Returns the number of records mirrored.
func (s *CachedStore) Rebuild(ctx context.Context) (int, error) {
	started := time.Now()
	n := 0
	err := s.Store.All(ctx, func(r *Record) error {
		if err := s.mirror(ctx, r); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, errors.Join(ErrCacheRebuild, err)
	}
	s.log.InfoContext(ctx, "subscription cache rebuilt",
		slog.Int("records", n), logger.Duration(time.Since(started)))
	return n, nil
}

func (s *CachedStore) mirror(ctx context.Context, r *Record) error {
	return s.kv.Batch(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, TierKey(r.UserID), string(r.Tier), 0)
		if r.CustomerID != "" {
			p.Set(ctx, CustomerKey(r.UserID), r.CustomerID, 0)
		} else {
			p.Del(ctx, CustomerKey(r.UserID))
		}
		p.Del(ctx, InfoKey(r.UserID))
		return nil
	})
}
