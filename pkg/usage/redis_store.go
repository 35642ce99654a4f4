package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ringline/billingkit/pkg/plan"
)

// Counters for one (user, period) live in a single hash so a period's whole
// usage can be read with one HGETALL.
//
// addIfUnderScript performs the conditional increment server-side, which is
// what makes TryConsume safe across multiple engine processes sharing the
// same Redis.
var addIfUnderScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local amount = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
if used + amount > max then
	return 0
end
redis.call('HINCRBY', KEYS[1], ARGV[1], amount)
return 1
`)

// subFloorScript decrements a counter without letting it go negative.
var subFloorScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local amount = tonumber(ARGV[2])
if amount >= used then
	redis.call('HSET', KEYS[1], ARGV[1], 0)
else
	redis.call('HINCRBY', KEYS[1], ARGV[1], -amount)
end
return 1
`)

// redisStore keeps counters in Redis hashes, one per (userID, periodKey).
type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a CounterStore backed by Redis. The prefix
// namespaces keys so one Redis can serve several environments; empty prefix
// defaults to "usage".
func NewRedisStore(client *redis.Client, prefix string) CounterStore {
	if prefix == "" {
		prefix = "usage"
	}
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) key(userID uuid.UUID, periodKey string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, userID, periodKey)
}

func (s *redisStore) Used(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature) (int64, error) {
	used, err := s.client.HGet(ctx, s.key(userID, periodKey), string(feature)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Join(ErrFailedToCount, err)
	}
	return used, nil
}

func (s *redisStore) Add(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount int64) error {
	if err := s.client.HIncrBy(ctx, s.key(userID, periodKey), string(feature), amount).Err(); err != nil {
		return errors.Join(ErrFailedToConsume, err)
	}
	return nil
}

func (s *redisStore) AddIfUnder(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount, max int64) (bool, error) {
	res, err := addIfUnderScript.Run(ctx, s.client,
		[]string{s.key(userID, periodKey)},
		string(feature), amount, max,
	).Int64()
	if err != nil {
		return false, errors.Join(ErrFailedToConsume, err)
	}
	return res == 1, nil
}

func (s *redisStore) Sub(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount int64) error {
	if err := subFloorScript.Run(ctx, s.client,
		[]string{s.key(userID, periodKey)},
		string(feature), amount,
	).Err(); err != nil {
		return errors.Join(ErrFailedToConsume, err)
	}
	return nil
}

func (s *redisStore) Snapshot(ctx context.Context, userID uuid.UUID, periodKey string) (map[plan.Feature]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.key(userID, periodKey)).Result()
	if err != nil {
		return nil, errors.Join(ErrFailedToCount, err)
	}

	out := make(map[plan.Feature]int64, len(raw))
	for feature, value := range raw {
		var used int64
		if _, err := fmt.Sscan(value, &used); err != nil {
			return nil, errors.Join(ErrFailedToCount, fmt.Errorf("counter %s holds non-numeric value %q", feature, value))
		}
		out[plan.Feature(feature)] = used
	}
	return out, nil
}
