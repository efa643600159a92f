package postgres

import (
	"context"
	"fmt"

	"film-ai-api/internal/domain/entity"
)

// Models 由 bootstrap 自动迁移的全部表
func Models() []any {
	return []any{
		&entity.Project{},
		&entity.Scene{},
		&entity.Character{},
		&entity.AnalysisStage{},
		&entity.ProjectProgress{},
		&entity.StageResult{},
		&entity.ConsistencyProfile{},
		&entity.VisualArtifact{},
		&entity.VisualSceneStatus{},
	}
}

// AutoMigrate 创建或更新表结构
func (c *Client) AutoMigrate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.AutoMigrate")
	defer span.End()

	if err := c.db.WithContext(ctx).Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to enable pgcrypto: %w", err)
	}
	if err := c.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
