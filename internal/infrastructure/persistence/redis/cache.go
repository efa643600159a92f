package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
)

var cacheTracer = otel.Tracer("redis.cache")

const defaultProfileTTL = 7 * 24 * time.Hour

// ProfileCache 角色一致性描述缓存，按项目与小写角色名分键
type ProfileCache struct {
	client *Client
	ttl    time.Duration
}

// NewProfileCache 创建描述缓存
func NewProfileCache(client *Client, cfg *config.Config) *ProfileCache {
	ttl := cfg.Cache.Redis.ProfileTTL
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	return &ProfileCache{client: client, ttl: ttl}
}

func profileCacheKey(projectID, characterName string) string {
	return buildKey("profile", projectID, strings.ToLower(strings.TrimSpace(characterName)))
}

// GetProfile 读取缓存，未命中返回 nil, nil
func (c *ProfileCache) GetProfile(ctx context.Context, projectID, characterName string) (*entity.ConsistencyProfile, error) {
	key := profileCacheKey(projectID, characterName)
	ctx, span := cacheTracer.Start(ctx, "cache.GetProfile",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, nil
		}
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))

	var p entity.ConsistencyProfile
	if err := json.Unmarshal(val, &p); err != nil {
		// 损坏的条目按未命中处理，稍后被覆盖
		span.RecordError(err)
		return nil, nil
	}
	return &p, nil
}

// SetProfile 写入缓存
func (c *ProfileCache) SetProfile(ctx context.Context, profile *entity.ConsistencyProfile) error {
	key := profileCacheKey(profile.ProjectID, profile.CharacterName)
	ctx, span := cacheTracer.Start(ctx, "cache.SetProfile",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_ms", c.ttl.Milliseconds()),
		))
	defer span.End()

	b, err := json.Marshal(profile)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := c.client.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// InvalidateProject 删除项目全部描述缓存
func (c *ProfileCache) InvalidateProject(ctx context.Context, projectID string) error {
	pattern := buildKey("profile", projectID, "*")
	ctx, span := cacheTracer.Start(ctx, "cache.InvalidateProject",
		trace.WithAttributes(attribute.String("cache.pattern", pattern)))
	defer span.End()

	iter := c.client.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	span.SetAttributes(attribute.Int("cache.invalidated_count", len(keys)))
	return c.client.rdb.Del(ctx, keys...).Err()
}
