package repository

import (
	"context"
	"time"

	"film-ai-api/internal/domain/entity"
)

// StageRepository 分析阶段记录仓储接口
type StageRepository interface {
	// Get 获取项目某阶段记录，不存在返回 nil, nil
	Get(ctx context.Context, projectID string, stage entity.StageName) (*entity.AnalysisStage, error)

	// ListByProject 返回项目全部阶段记录
	ListByProject(ctx context.Context, projectID string) ([]*entity.AnalysisStage, error)

	// Save 按 (project, stage) 创建或更新记录
	Save(ctx context.Context, stage *entity.AnalysisStage) error

	// ListStale 返回 started_at 早于 before 且仍处于 processing 的记录
	ListStale(ctx context.Context, before time.Time) ([]*entity.AnalysisStage, error)
}

// ProgressRepository 项目进度仓储接口
type ProgressRepository interface {
	// Get 获取项目进度，不存在返回 nil, nil
	Get(ctx context.Context, projectID string) (*entity.ProjectProgress, error)

	// Save 创建或更新项目进度
	Save(ctx context.Context, progress *entity.ProjectProgress) error
}

// StageResultRepository 阶段产出仓储接口
type StageResultRepository interface {
	// Get 获取阶段产出，不存在返回 nil, nil
	Get(ctx context.Context, projectID string, stage entity.StageName) (*entity.StageResult, error)

	// Save 创建或覆盖阶段产出
	Save(ctx context.Context, result *entity.StageResult) error
}
