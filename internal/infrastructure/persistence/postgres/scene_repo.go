package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"film-ai-api/internal/domain/entity"
)

// SceneRepository 场景仓储实现
type SceneRepository struct {
	client *Client
}

// NewSceneRepository 创建场景仓储
func NewSceneRepository(client *Client) *SceneRepository {
	return &SceneRepository{client: client}
}

// ListByProject 按场景号升序返回项目全部场景
func (r *SceneRepository) ListByProject(ctx context.Context, projectID string) ([]*entity.Scene, error) {
	ctx, span := tracer.Start(ctx, "postgres.SceneRepository.ListByProject")
	defer span.End()

	var scenes []*entity.Scene
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Order("scene_number ASC").
		Find(&scenes).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	return scenes, nil
}

// GetByID 根据 ID 获取场景
func (r *SceneRepository) GetByID(ctx context.Context, id string) (*entity.Scene, error) {
	ctx, span := tracer.Start(ctx, "postgres.SceneRepository.GetByID")
	defer span.End()

	var scene entity.Scene
	if err := getDB(ctx, r.client.db).First(&scene, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}
	return &scene, nil
}

// UpsertForProject 按 (project_id, scene_number) 写入提取结果。
// 已存在的场景保留原 ID 与特效/植入标签，本次未出现的场景号保持不动。
func (r *SceneRepository) UpsertForProject(ctx context.Context, projectID string, scenes []*entity.Scene) error {
	ctx, span := tracer.Start(ctx, "postgres.SceneRepository.UpsertForProject")
	defer span.End()

	if len(scenes) == 0 {
		return nil
	}
	for _, sc := range scenes {
		sc.ProjectID = projectID
	}
	err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "scene_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"location", "time_of_day", "description", "characters", "content",
			"page_start", "page_end", "duration", "updated_at",
		}),
	}).CreateInBatches(scenes, 100).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert scenes: %w", err)
	}
	return nil
}

// UpdateVFXNeeds 仅更新特效标签
func (r *SceneRepository) UpdateVFXNeeds(ctx context.Context, sceneID string, tags []string) error {
	ctx, span := tracer.Start(ctx, "postgres.SceneRepository.UpdateVFXNeeds")
	defer span.End()

	if err := getDB(ctx, r.client.db).Model(&entity.Scene{}).
		Where("id = ?", sceneID).
		Update("vfx_needs", pq.StringArray(tags)).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update vfx needs: %w", err)
	}
	return nil
}

// UpdatePlacementTags 仅更新植入标签
func (r *SceneRepository) UpdatePlacementTags(ctx context.Context, sceneID string, tags []string) error {
	ctx, span := tracer.Start(ctx, "postgres.SceneRepository.UpdatePlacementTags")
	defer span.End()

	if err := getDB(ctx, r.client.db).Model(&entity.Scene{}).
		Where("id = ?", sceneID).
		Update("product_placement_opportunities", pq.StringArray(tags)).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update placement tags: %w", err)
	}
	return nil
}
