package repository

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"time"
	"token-keeper/config"
	"token-keeper/internal/util"
)

// BlacklistCacheRepository keeps blacklisted jtis in redis until the token would
// have expired anyway.
type BlacklistCacheRepository struct {
	client *config.RedisClient
	clock  util.Clock
	log    *zap.SugaredLogger
}

func NewBlacklistCacheRepository(rdb *config.RedisClient, clock util.Clock, log *zap.SugaredLogger) *BlacklistCacheRepository {
	return &BlacklistCacheRepository{client: rdb, clock: clock, log: log}
}

func (r *BlacklistCacheRepository) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.clock.Now())
	if ttl <= 0 {
		return nil
	}

	cmd := r.client.Client.Set(ctx, r.key(jti), expiresAt.Unix(), ttl)
	if err := cmd.Err(); err != nil {
		return util.LogError(r.log, "failed to cache blacklisted token", err, "jti", jti)
	}
	if cmd.Val() != "OK" {
		return fmt.Errorf("unexpected redis reply: %s", cmd.Val())
	}
	return nil
}

func (r *BlacklistCacheRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	err := r.client.Client.Get(ctx, r.key(jti)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil // not cached
	} else if err != nil {
		return false, util.LogError(r.log, "failed to read blacklist cache", err, "jti", jti)
	}
	return true, nil
}

func (r *BlacklistCacheRepository) Remove(ctx context.Context, jtis ...string) error {
	if len(jtis) == 0 {
		return nil
	}

	pipe := r.client.Client.Pipeline()
	for _, jti := range jtis {
		pipe.Del(ctx, r.key(jti))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return util.LogError(r.log, "failed to evict blacklisted tokens from cache", err, "count", len(jtis))
	}
	return nil
}

func (r *BlacklistCacheRepository) key(jti string) string {
	return fmt.Sprintf("blacklist:%s", jti)
}
