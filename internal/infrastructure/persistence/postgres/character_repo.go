package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"film-ai-api/internal/domain/entity"
)

// CharacterRepository 角色仓储实现
type CharacterRepository struct {
	client *Client
}

// NewCharacterRepository 创建角色仓储
func NewCharacterRepository(client *Client) *CharacterRepository {
	return &CharacterRepository{client: client}
}

// ListByProject 返回项目全部角色
func (r *CharacterRepository) ListByProject(ctx context.Context, projectID string) ([]*entity.Character, error) {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.ListByProject")
	defer span.End()

	var characters []*entity.Character
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&characters).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return characters, nil
}

// UpsertForProject 按 (project_id, name) 写入分析结果并保留已有 ID，
// 本次结果中不再出现的角色在同一事务内删除
func (r *CharacterRepository) UpsertForProject(ctx context.Context, projectID string, characters []*entity.Character) error {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.UpsertForProject")
	defer span.End()

	err := getDB(ctx, r.client.db).Transaction(func(tx *gorm.DB) error {
		if len(characters) == 0 {
			return tx.Where("project_id = ?", projectID).Delete(&entity.Character{}).Error
		}
		names := make([]string, 0, len(characters))
		for _, c := range characters {
			c.ProjectID = projectID
			names = append(names, c.Name)
		}
		if err := tx.Where("project_id = ? AND name NOT IN ?", projectID, names).
			Delete(&entity.Character{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "project_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"description", "demographics", "personality", "importance",
				"screen_time", "character_arc", "relationships", "updated_at",
			}),
		}).CreateInBatches(characters, 100).Error
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert characters: %w", err)
	}
	return nil
}
