// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"film-ai-api/internal/domain/entity"
)

// projectEditableColumns 冲突时覆盖的列；created_at 保留首次写入值
var projectEditableColumns = []string{
	"title", "logline", "genre", "script", "total_budget", "budget_tier", "owner", "updated_at",
}

// ProjectRepository 项目仓储。项目由上游创作系统维护，这里只读，
// 另外提供按 ID 的 upsert 供 bootstrap 导入项目数据。
type ProjectRepository struct {
	client *Client
}

// NewProjectRepository 创建项目仓储
func NewProjectRepository(client *Client) *ProjectRepository {
	return &ProjectRepository{client: client}
}

// GetByID 不存在返回 nil, nil
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*entity.Project, error) {
	ctx, span := tracer.Start(ctx, "postgres.ProjectRepository.GetByID")
	defer span.End()

	var project entity.Project
	err := getDB(ctx, r.client.db).Where("id = ?", id).Take(&project).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		span.RecordError(err)
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &project, nil
}

// Upsert 按主键写入项目
func (r *ProjectRepository) Upsert(ctx context.Context, project *entity.Project) error {
	ctx, span := tracer.Start(ctx, "postgres.ProjectRepository.Upsert")
	defer span.End()

	err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(projectEditableColumns),
	}).Create(project).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upsert project %s: %w", project.ID, err)
	}
	return nil
}
