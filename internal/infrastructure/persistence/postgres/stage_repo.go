package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"film-ai-api/internal/domain/entity"
)

// StageRepository 分析阶段记录仓储实现
type StageRepository struct {
	client *Client
}

// NewStageRepository 创建阶段记录仓储
func NewStageRepository(client *Client) *StageRepository {
	return &StageRepository{client: client}
}

// Get 获取项目某阶段记录
func (r *StageRepository) Get(ctx context.Context, projectID string, stage entity.StageName) (*entity.AnalysisStage, error) {
	ctx, span := tracer.Start(ctx, "postgres.StageRepository.Get")
	defer span.End()

	var rec entity.AnalysisStage
	if err := getDB(ctx, r.client.db).
		First(&rec, "project_id = ? AND stage = ?", projectID, stage).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get stage record: %w", err)
	}
	return &rec, nil
}

// ListByProject 返回项目全部阶段记录
func (r *StageRepository) ListByProject(ctx context.Context, projectID string) ([]*entity.AnalysisStage, error) {
	ctx, span := tracer.Start(ctx, "postgres.StageRepository.ListByProject")
	defer span.End()

	var recs []*entity.AnalysisStage
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&recs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list stage records: %w", err)
	}
	return recs, nil
}

// Save 按 (project, stage) 创建或更新记录
func (r *StageRepository) Save(ctx context.Context, stage *entity.AnalysisStage) error {
	ctx, span := tracer.Start(ctx, "postgres.StageRepository.Save")
	defer span.End()

	err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"run_id", "status", "result_summary", "failure_reason", "error_message",
			"attempts", "started_at", "completed_at", "updated_at",
		}),
	}).Create(stage).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save stage record: %w", err)
	}
	return nil
}

// ListStale 返回 started_at 早于 before 且仍处于 processing 的记录
func (r *StageRepository) ListStale(ctx context.Context, before time.Time) ([]*entity.AnalysisStage, error) {
	ctx, span := tracer.Start(ctx, "postgres.StageRepository.ListStale")
	defer span.End()

	var recs []*entity.AnalysisStage
	if err := getDB(ctx, r.client.db).
		Where("status = ? AND started_at < ?", entity.StageStatusProcessing, before).
		Find(&recs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list stale stage records: %w", err)
	}
	return recs, nil
}

// ProgressRepository 项目进度仓储实现
type ProgressRepository struct {
	client *Client
}

// NewProgressRepository 创建进度仓储
func NewProgressRepository(client *Client) *ProgressRepository {
	return &ProgressRepository{client: client}
}

// Get 获取项目进度
func (r *ProgressRepository) Get(ctx context.Context, projectID string) (*entity.ProjectProgress, error) {
	ctx, span := tracer.Start(ctx, "postgres.ProgressRepository.Get")
	defer span.End()

	var p entity.ProjectProgress
	if err := getDB(ctx, r.client.db).First(&p, "project_id = ?", projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &p, nil
}

// Save 创建或更新项目进度
func (r *ProgressRepository) Save(ctx context.Context, progress *entity.ProjectProgress) error {
	ctx, span := tracer.Start(ctx, "postgres.ProgressRepository.Save")
	defer span.End()

	if err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(progress).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// StageResultRepository 阶段产出仓储实现
type StageResultRepository struct {
	client *Client
}

// NewStageResultRepository 创建阶段产出仓储
func NewStageResultRepository(client *Client) *StageResultRepository {
	return &StageResultRepository{client: client}
}

// Get 获取阶段产出
func (r *StageResultRepository) Get(ctx context.Context, projectID string, stage entity.StageName) (*entity.StageResult, error) {
	ctx, span := tracer.Start(ctx, "postgres.StageResultRepository.Get")
	defer span.End()

	var res entity.StageResult
	if err := getDB(ctx, r.client.db).
		First(&res, "project_id = ? AND stage = ?", projectID, stage).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get stage result: %w", err)
	}
	return &res, nil
}

// Save 创建或覆盖阶段产出
func (r *StageResultRepository) Save(ctx context.Context, result *entity.StageResult) error {
	ctx, span := tracer.Start(ctx, "postgres.StageResultRepository.Save")
	defer span.End()

	if err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(result).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save stage result: %w", err)
	}
	return nil
}
