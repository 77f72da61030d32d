package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"

	"adserver.com/pkg/metrics"
)

type Cache interface {
	Get(ctx context.Context, userID int64) (Balances, bool, error)
	Set(ctx context.Context, userID int64, b Balances, ttl time.Duration) error
	Del(ctx context.Context, userID int64) error
}

type redisCache struct {
	client redis.Cmdable
	jitter time.Duration
}

// NewRedisCache jitter > 0 时给 ttl 加随机时间，防止同时过期
func NewRedisCache(c redis.Cmdable, jitter time.Duration) Cache {
	return &redisCache{client: c, jitter: jitter}
}

func (r *redisCache) Get(ctx context.Context, userID int64) (Balances, bool, error) {
	key := cacheKey(userID)

	raw, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Balances{}, false, nil
	}
	if err != nil {
		metrics.RedisErrors.WithLabelValues("get").Inc()
		return Balances{}, false, err
	}

	var b Balances
	if err := json.Unmarshal(raw, &b); err != nil {
		// 缓存脏了就删掉，避免持续命中错误
		_ = r.client.Del(ctx, key).Err()
		return Balances{}, false, err
	}
	return b, true, nil
}

func (r *redisCache) Set(ctx context.Context, userID int64, b Balances, ttl time.Duration) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, cacheKey(userID), raw, withJitter(ttl, r.jitter)).Err(); err != nil {
		metrics.RedisErrors.WithLabelValues("set").Inc()
		return err
	}
	return nil
}

func (r *redisCache) Del(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		metrics.RedisErrors.WithLabelValues("del").Inc()
		return err
	}
	return nil
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("ledger:bal:%d", userID)
}

func withJitter(ttl, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}
