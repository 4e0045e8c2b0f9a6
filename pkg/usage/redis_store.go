package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/pixelmint/pkg/redis"
)

// addScript applies the period reset, optionally enforces a limit, and writes
// count, date and total in one step.
//
// KEYS: count, date, total. ARGV: n, periodStart, now, limit (-1 for none).
// Returns {allowed, count, date, total}.
var addScript = goredis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local last = redis.call('GET', KEYS[2])
if (not last) or last < ARGV[2] then
  count = 0
end
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[4])
if limit >= 0 and count + n > limit then
  local total = tonumber(redis.call('GET', KEYS[3]) or '0')
  return {0, count, last or '', total}
end
count = count + n
redis.call('SET', KEYS[1], count)
redis.call('SET', KEYS[2], ARGV[3])
local total = redis.call('INCRBY', KEYS[3], n)
return {1, count, ARGV[3], total}
`)

// refundScript decrements the count with a floor of zero.
var refundScript = goredis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0') - tonumber(ARGV[1])
if count < 0 then count = 0 end
redis.call('SET', KEYS[1], count)
return count
`)

// RedisStore keeps counters in Redis through the KV wrapper.
type RedisStore struct {
	kv *redis.KV
}

func NewRedisStore(kv *redis.KV) *RedisStore {
	return &RedisStore{kv: kv}
}

func (s *RedisStore) Load(ctx context.Context, keys Keys) (Counter, error) {
	vals, err := s.kv.MGet(ctx, keys.Count, keys.Date, keys.Total)
	if err != nil {
		return Counter{}, errors.Join(ErrStoreRead, err)
	}
	var c Counter
	if vals[0] != nil {
		c.Count, _ = strconv.ParseInt(*vals[0], 10, 64)
	}
	if vals[1] != nil {
		c.LastUsed = parseDate(*vals[1])
	}
	if vals[2] != nil {
		c.Total, _ = strconv.ParseInt(*vals[2], 10, 64)
	}
	return c, nil
}

func (s *RedisStore) Add(ctx context.Context, keys Keys, n int64, periodStart, now time.Time) (Counter, error) {
	c, _, err := s.run(ctx, keys, n, -1, periodStart, now)
	return c, err
}

func (s *RedisStore) AddWithin(ctx context.Context, keys Keys, n, limit int64, periodStart, now time.Time) (Counter, bool, error) {
	return s.run(ctx, keys, n, limit, periodStart, now)
}

func (s *RedisStore) run(ctx context.Context, keys Keys, n, limit int64, periodStart, now time.Time) (Counter, bool, error) {
	res, err := addScript.Run(ctx, s.kv.Client(),
		[]string{keys.Count, keys.Date, keys.Total},
		n, formatDate(periodStart), formatDate(now), limit,
	).Slice()
	if err != nil {
		return Counter{}, false, errors.Join(ErrStoreWrite, err)
	}
	if len(res) != 4 {
		return Counter{}, false, fmt.Errorf("%w: unexpected script reply %v", ErrStoreWrite, res)
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	date, _ := res[2].(string)
	total, _ := res[3].(int64)
	return Counter{Count: count, LastUsed: parseDate(date), Total: total}, allowed == 1, nil
}

func (s *RedisStore) Refund(ctx context.Context, keys Keys, n int64) error {
	if err := refundScript.Run(ctx, s.kv.Client(), []string{keys.Count}, n).Err(); err != nil {
		return errors.Join(ErrStoreWrite, err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, keys Keys) error {
	if err := s.kv.Del(ctx, keys.Count, keys.Date); err != nil {
		return errors.Join(ErrStoreWrite, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...Keys) error {
	all := make([]string, 0, len(keys)*3)
	for _, k := range keys {
		all = append(all, k.Count, k.Date, k.Total)
	}
	if err := s.kv.Del(ctx, all...); err != nil {
		return errors.Join(ErrStoreWrite, err)
	}
	return nil
}
