package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"goim-channel/pkg/logger"
	"goim-channel/pkg/redis"
)

const (
	defaultLockTTL   = 10 * time.Second
	minRetryInterval = 5 * time.Millisecond
	maxRetryInterval = 100 * time.Millisecond
)

// RedisLocker 基于 SET NX PX 的租约锁，多实例部署时替代 LocalLocker
// 持有时间超过TTL后锁会自动失效，TTL需大于单次操作的最长耗时
type RedisLocker struct {
	client *redis.RedisClient
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisLocker 创建Redis锁
func NewRedisLocker(client *redis.RedisClient, prefix string, ttl time.Duration, log logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, logger: log}
}

// Lock 自旋获取锁，等待间隔指数增长
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	lockKey := l.prefix + key
	token := uuid.NewString()
	wait := minRetryInterval

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("获取锁失败 %s: %w", lockKey, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxRetryInterval {
			wait = maxRetryInterval
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			released, err := l.client.ReleaseLock(releaseCtx, lockKey, token)
			if err != nil {
				l.logger.Error(releaseCtx, "释放Redis锁失败", logger.F("key", lockKey), logger.F("error", err.Error()))
				return
			}
			if !released {
				l.logger.Warn(releaseCtx, "Redis锁已过期，被其他持有者接管", logger.F("key", lockKey))
			}
		})
	}, nil
}
