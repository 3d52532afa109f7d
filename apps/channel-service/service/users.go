package service

import (
	"context"
	"encoding/json"
	"time"

	"goim-channel/apps/channel-service/dao"
	"goim-channel/apps/channel-service/model"
	"goim-channel/pkg/logger"
	"goim-channel/pkg/redis"
)

const userCacheKeyPrefix = "user:profile:"

// UserDirectory 解析用户展示信息，Redis 缓存按TTL失效
type UserDirectory struct {
	dao    dao.UserDAO
	cache  *redis.RedisClient
	ttl    time.Duration
	logger logger.Logger
}

// NewUserDirectory 创建用户目录，cache 为 nil 时直接查库
func NewUserDirectory(userDAO dao.UserDAO, cache *redis.RedisClient, ttl time.Duration, log logger.Logger) *UserDirectory {
	return &UserDirectory{dao: userDAO, cache: cache, ttl: ttl, logger: log}
}

// Resolve 批量解析用户，查不到的用户返回只含ID的资料
func (d *UserDirectory) Resolve(ctx context.Context, userIDs []string) (map[string]*model.UserProfile, error) {
	ids := dedup(userIDs)
	result := make(map[string]*model.UserProfile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	missing := d.fromCache(ctx, ids, result)
	if len(missing) > 0 {
		found, err := d.dao.GetUsers(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, id := range missing {
			profile, ok := found[id]
			if !ok {
				result[id] = &model.UserProfile{ID: id}
				continue
			}
			result[id] = profile
			d.toCache(ctx, profile)
		}
	}
	return result, nil
}

// fromCache 命中的写入 result，返回未命中的ID
func (d *UserDirectory) fromCache(ctx context.Context, ids []string, result map[string]*model.UserProfile) []string {
	if d.cache == nil {
		return ids
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userCacheKeyPrefix + id
	}
	values, err := d.cache.MGet(ctx, keys...)
	if err != nil {
		d.logger.Warn(ctx, "User cache lookup failed", logger.F("error", err.Error()))
		return ids
	}

	missing := make([]string, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var profile model.UserProfile
		if err := json.Unmarshal([]byte(raw), &profile); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		result[ids[i]] = &profile
	}
	return missing
}

func (d *UserDirectory) toCache(ctx context.Context, profile *model.UserProfile) {
	if d.cache == nil {
		return
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, userCacheKeyPrefix+profile.ID, data, d.ttl); err != nil {
		d.logger.Warn(ctx, "User cache write failed",
			logger.F("userID", profile.ID),
			logger.F("error", err.Error()))
	}
}

// profilesOf 按 ids 的顺序取出资料
func profilesOf(ids []string, resolved map[string]*model.UserProfile) []*model.UserProfile {
	result := make([]*model.UserProfile, 0, len(ids))
	for _, id := range ids {
		if p, ok := resolved[id]; ok {
			result = append(result, p)
		} else {
			result = append(result, &model.UserProfile{ID: id})
		}
	}
	return result
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
