package xredis

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld 锁被其他实例持有
var ErrLockHeld = errors.New("xredis: lock held by another owner")

// UnlockScript 释放锁
// KEYS[1]: 锁的 key
// ARGV[1]: 锁的 value (token)，防止误删别人的锁
const UnlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// RefreshScript 续期同样要校验 token
const RefreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end
`

type DistLock struct {
	client     redis.Cmdable
	key        string
	token      string        // 谁加锁谁解锁
	expiration time.Duration // 持有者崩溃后锁自动过期
}

func NewDistLock(client redis.Cmdable, key string, expiration time.Duration) *DistLock {
	return &DistLock{
		client:     client,
		key:        key,
		token:      uuid.New().String(),
		expiration: expiration,
	}
}

func (l *DistLock) Key() string   { return l.key }
func (l *DistLock) Token() string { return l.token }

// TryLock 非阻塞，抢不到直接返回 false
func (l *DistLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.expiration).Result()
}

// Lock 自旋重试 retryTimes 次
func (l *DistLock) Lock(ctx context.Context, retryTimes int, retryInterval time.Duration) (bool, error) {
	for i := 0; i < retryTimes; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return false, err
		}
		if success {
			return true, nil
		}

		// 随机抖动，防止所有等待者同时醒来
		sleepTime := retryInterval + time.Duration(rand.Intn(10))*time.Millisecond

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(sleepTime):
		}
	}
	return false, nil
}

// Refresh 延长锁的过期时间，锁已经不是自己的返回 ErrLockHeld
func (l *DistLock) Refresh(ctx context.Context) error {
	res, err := l.client.Eval(ctx, RefreshScript, []string{l.key}, l.token, l.expiration.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res != 1 {
		return ErrLockHeld
	}
	return nil
}

// Unlock 安全释放锁
func (l *DistLock) Unlock(ctx context.Context) (bool, error) {
	res, err := l.client.Eval(ctx, UnlockScript, []string{l.key}, l.token).Int64()
	if err != nil {
		return false, err
	}
	// 1 删除成功，0 表示 key 不存在或 token 不匹配
	return res == 1, nil
}
