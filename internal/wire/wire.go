//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"film-ai-api/internal/application/analysis"
	"film-ai-api/internal/application/pipeline"
	"film-ai-api/internal/application/visual"
	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/repository"
	"film-ai-api/internal/infrastructure/crm"
	"film-ai-api/internal/infrastructure/image"
	"film-ai-api/internal/infrastructure/llm"
	"film-ai-api/internal/infrastructure/messaging"
	"film-ai-api/internal/infrastructure/persistence/postgres"
	"film-ai-api/internal/infrastructure/persistence/redis"
	"film-ai-api/internal/interfaces/http/handler"
	"film-ai-api/internal/interfaces/http/middleware"
	"film-ai-api/internal/interfaces/http/router"
	workflowport "film-ai-api/internal/workflow/port"
)

// InitializePostgresOnly 仅初始化 PostgreSQL 数据层（用于 bootstrap）
func InitializePostgresOnly(ctx context.Context, cfg *config.Config) (*PostgresOnlyDataLayer, func(), error) {
	wire.Build(
		ProvidePostgresClient,
		postgres.NewProjectRepository,
		wire.Struct(new(PostgresOnlyDataLayer), "*"),
	)
	return nil, nil, nil
}

// InitializeApp 初始化整个应用（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		IntegrationSet,
		ServiceSet,
		RouterSet,
	)
	return nil, nil, nil
}

// InitializeWorker 初始化 job-worker 依赖
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		IntegrationSet,
		ServiceSet,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewProjectRepository,
	postgres.NewSceneRepository,
	postgres.NewCharacterRepository,
	postgres.NewStageRepository,
	postgres.NewProgressRepository,
	postgres.NewStageResultRepository,
	postgres.NewProfileRepository,
	postgres.NewArtifactRepository,
	postgres.NewVisualStatusRepository,
)

// RepoSet 整合了具体实现与接口绑定的集合
var RepoSet = wire.NewSet(
	PostgresSet,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.ProjectRepository), new(*postgres.ProjectRepository)),
	wire.Bind(new(repository.SceneRepository), new(*postgres.SceneRepository)),
	wire.Bind(new(repository.CharacterRepository), new(*postgres.CharacterRepository)),
	wire.Bind(new(repository.StageRepository), new(*postgres.StageRepository)),
	wire.Bind(new(repository.ProgressRepository), new(*postgres.ProgressRepository)),
	wire.Bind(new(repository.StageResultRepository), new(*postgres.StageResultRepository)),
	wire.Bind(new(repository.ProfileRepository), new(*postgres.ProfileRepository)),
	wire.Bind(new(repository.ArtifactRepository), new(*postgres.ArtifactRepository)),
	wire.Bind(new(repository.VisualStatusRepository), new(*postgres.VisualStatusRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewProfileCache,
	redis.NewRateLimiter,
	redis.NewPipelineLock,
	redis.NewVisualLock,
	ProvideRateLimitKey,
	wire.Bind(new(visual.ProfileCache), new(*redis.ProfileCache)),
	wire.Bind(new(middleware.RateLimiter), new(*redis.RateLimiter)),
	wire.Bind(new(pipeline.RunLock), new(*redis.PipelineLock)),
	wire.Bind(new(visual.BatchLock), new(*redis.VisualLock)),
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
	wire.Bind(new(pipeline.Dispatcher), new(*messaging.Producer)),
	wire.Bind(new(visual.Dispatcher), new(*messaging.Producer)),
)

// IntegrationSet 外部协作方：模型提供商、图片后端、对象存储、CRM
var IntegrationSet = wire.NewSet(
	ProvideLLMRegistry,
	llm.NewFallbackGeneratorFromRegistry,
	image.NewHTTPBackend,
	ProvideObjectStoreOptional,
	ProvideVisualObjectStore,
	ProvideCRMClient,
	wire.Bind(new(workflowport.Invoker), new(*llm.Registry)),
	wire.Bind(new(workflowport.ContentGenerator), new(*llm.FallbackGenerator)),
	wire.Bind(new(workflowport.ImageBackend), new(*image.HTTPBackend)),
	wire.Bind(new(pipeline.LeadSubmitter), new(*crm.NATSClient)),
)

// ServiceSet 应用服务集合
var ServiceSet = wire.NewSet(
	analysis.NewAnalyzer,
	pipeline.NewStageSet,
	pipeline.NewOrchestrator,
	visual.NewService,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	ProvideHealthHandler,
	handler.NewPipelineHandler,
	handler.NewVisualHandler,
	handler.NewAnalysisHandler,
	wire.Bind(new(handler.PipelineService), new(*pipeline.Orchestrator)),
	wire.Bind(new(handler.VisualService), new(*visual.Service)),
	wire.Bind(new(handler.AnalysisService), new(*analysis.Analyzer)),
	wire.Struct(new(router.Handlers), "*"),
	router.New,
)
