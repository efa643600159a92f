package wire

import (
	"context"

	"film-ai-api/internal/application/pipeline"
	"film-ai-api/internal/application/visual"
	"film-ai-api/internal/config"
	"film-ai-api/internal/infrastructure/crm"
	"film-ai-api/internal/infrastructure/llm"
	"film-ai-api/internal/infrastructure/messaging"
	"film-ai-api/internal/infrastructure/persistence/postgres"
	"film-ai-api/internal/infrastructure/persistence/redis"
	"film-ai-api/internal/infrastructure/storage"
	"film-ai-api/internal/interfaces/http/handler"
	"film-ai-api/internal/interfaces/http/middleware"
	"film-ai-api/pkg/logger"
)

// PostgresOnlyDataLayer 仅包含 PostgreSQL 的数据层（用于 bootstrap）
type PostgresOnlyDataLayer struct {
	PgClient *postgres.Client
	Projects *postgres.ProjectRepository
}

// Worker job-worker 运行所需的依赖
type Worker struct {
	RedisClient  *redis.Client
	Orchestrator *pipeline.Orchestrator
	Visual       *visual.Service
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRateLimitKey 提供限流键构造函数
func ProvideRateLimitKey() middleware.KeyFunc {
	return redis.BuildRateLimitKey
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	return messaging.NewProducer(redisClient.Redis(), cfg)
}

// ProvideLLMRegistry 创建提供商注册表并预热默认提供商；默认提供商缺少凭据时启动失败，
// 降级链中的提供商仅告警，首次使用时再报错
func ProvideLLMRegistry(ctx context.Context, cfg *config.Config) (*llm.Registry, func(), error) {
	registry := llm.NewRegistry(cfg)
	primary, fallbacks := registry.Chain()
	if err := registry.Warmup(ctx, primary); err != nil {
		_ = registry.Close()
		return nil, nil, err
	}
	for _, name := range fallbacks {
		if err := registry.Warmup(ctx, name); err != nil {
			logger.Warn(ctx, "fallback provider unavailable", "provider", name, "error", err.Error())
		}
	}
	cleanup := func() {
		_ = registry.Close()
	}
	return registry, cleanup, nil
}

// ProvideObjectStoreOptional 对象存储不可达时不阻塞启动，分镜仅保存后端返回的 URL
func ProvideObjectStoreOptional(ctx context.Context, cfg *config.Config) *storage.MinIOStore {
	if cfg.Storage.MinIO.Endpoint == "" {
		logger.Warn(ctx, "minio endpoint not configured, storyboard images will not be archived")
		return nil
	}
	store, err := storage.NewMinIOStore(cfg)
	if err != nil {
		logger.Warn(ctx, "minio not available, storyboard images will not be archived", "error", err.Error())
		return nil
	}
	return store
}

// ProvideVisualObjectStore 把可选的对象存储转换为接口，避免持有类型化 nil
func ProvideVisualObjectStore(store *storage.MinIOStore) visual.ObjectStore {
	if store == nil {
		return nil
	}
	return store
}

// ProvideCRMClient 提供 CRM 客户端
func ProvideCRMClient(cfg *config.Config) (*crm.NATSClient, func(), error) {
	client, err := crm.NewNATSClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(pg *postgres.Client, rc *redis.Client, store *storage.MinIOStore) *handler.HealthHandler {
	var objectStore handler.HealthChecker
	if store != nil {
		objectStore = store
	}
	return handler.NewHealthHandler(pg, rc, objectStore)
}
