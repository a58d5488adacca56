package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// rearmScript swaps a failed record back to in_progress atomically, so only
// one retrier wins the re-reservation.
var rearmScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
local rec = cjson.decode(v)
if rec.state == 'failed' then
  redis.call('SET', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// settleScript transitions in_progress to a terminal state and applies the
// TTL in the same step. Returns 0 when the record wasn't in_progress.
var settleScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local rec = cjson.decode(v)
if rec.state == 'in_progress' then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

type redisRecord struct {
	State       string     `json:"state"`
	Result      []byte     `json:"result,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RedisStore backs the idempotency layer with redis. SetNX is the atomic
// reserve; terminal records carry a TTL so redis expires them natively, while
// in_progress records are stored without one and can never be evicted.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (Reservation, error) {
	k := redisKeyPrefix + key
	fresh, err := json.Marshal(redisRecord{State: StateInProgress, CreatedAt: time.Now().UTC()})
	if err != nil {
		return Reservation{}, err
	}

	set, err := s.client.SetNX(ctx, k, fresh, 0).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency setnx: %w", err)
	}
	if set {
		return Reservation{Reserved: true}, nil
	}

	raw, err := s.client.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Record expired between SetNX and Get; treat as a lost race.
			return Reservation{InProgress: true}, nil
		}
		return Reservation{}, err
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Reservation{}, fmt.Errorf("corrupt idempotency record %q: %w", key, err)
	}

	switch rec.State {
	case StateCompleted:
		return Reservation{Result: rec.Result}, nil
	case StateFailed:
		won, err := rearmScript.Run(ctx, s.client, []string{k}, fresh).Int64()
		if err != nil {
			return Reservation{}, err
		}
		if won == 1 {
			return Reservation{Reserved: true}, nil
		}
		return Reservation{InProgress: true}, nil
	default:
		return Reservation{InProgress: true}, nil
	}
}

func (s *RedisStore) Complete(ctx context.Context, key string, result []byte) error {
	now := time.Now().UTC()
	payload, err := json.Marshal(redisRecord{
		State:       StateCompleted,
		Result:      result,
		CreatedAt:   now,
		CompletedAt: &now,
	})
	if err != nil {
		return err
	}
	return s.settle(ctx, key, payload)
}

func (s *RedisStore) Fail(ctx context.Context, key string, cause error) error {
	now := time.Now().UTC()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	payload, err := json.Marshal(redisRecord{
		State:       StateFailed,
		LastError:   msg,
		CreatedAt:   now,
		CompletedAt: &now,
	})
	if err != nil {
		return err
	}
	return s.settle(ctx, key, payload)
}

func (s *RedisStore) settle(ctx context.Context, key string, payload []byte) error {
	ok, err := settleScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + key}, payload, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if ok != 1 {
		return ErrInvalidStateTransition
	}
	return nil
}

// PurgeExpired is a no-op: redis expires terminal records via their TTL.
func (s *RedisStore) PurgeExpired(ctx context.Context) (int64, error) {
	return 0, nil
}
