package risk

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
)

const defaultLatchKey = "execcore:risk:drawdown-latch"

// RedisLatchStore keeps latches in a redis hash keyed by profile name.
type RedisLatchStore struct {
	rdb redis.Cmdable
	key string
}

// NewRedisLatchStore creates a store on the given hash key.
func NewRedisLatchStore(rdb redis.Cmdable, key string) *RedisLatchStore {
	if key == "" {
		key = defaultLatchKey
	}
	return &RedisLatchStore{rdb: rdb, key: key}
}

func (s *RedisLatchStore) Load(ctx context.Context) (map[string]string, error) {
	entries, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis hgetall").With("key", s.key)
	}
	return entries, nil
}

func (s *RedisLatchStore) Save(ctx context.Context, profile, day string) error {
	if err := s.rdb.HSet(ctx, s.key, profile, day).Err(); err != nil {
		return errors.Wrap(err, "redis hset").With("profile", profile)
	}
	return nil
}

func (s *RedisLatchStore) Clear(ctx context.Context, profile string) error {
	if err := s.rdb.HDel(ctx, s.key, profile).Err(); err != nil {
		return errors.Wrap(err, "redis hdel").With("profile", profile)
	}
	return nil
}
