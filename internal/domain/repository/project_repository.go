package repository

import (
	"context"

	"film-ai-api/internal/domain/entity"
)

// ProjectRepository 项目仓储接口
type ProjectRepository interface {
	// GetByID 根据 ID 获取项目，不存在返回 nil, nil
	GetByID(ctx context.Context, id string) (*entity.Project, error)

	// Upsert 按 ID 写入项目，已存在时覆盖可编辑字段
	Upsert(ctx context.Context, project *entity.Project) error
}

// SceneRepository 场景仓储接口
type SceneRepository interface {
	// ListByProject 按场景号升序返回项目全部场景
	ListByProject(ctx context.Context, projectID string) ([]*entity.Scene, error)

	// GetByID 根据 ID 获取场景
	GetByID(ctx context.Context, id string) (*entity.Scene, error)

	// UpsertForProject 按场景号写入提取结果，已有场景保留 ID，场景从不删除
	UpsertForProject(ctx context.Context, projectID string, scenes []*entity.Scene) error

	// UpdateVFXNeeds 仅更新特效标签
	UpdateVFXNeeds(ctx context.Context, sceneID string, tags []string) error

	// UpdatePlacementTags 仅更新植入标签
	UpdatePlacementTags(ctx context.Context, sceneID string, tags []string) error
}

// CharacterRepository 角色仓储接口
type CharacterRepository interface {
	// ListByProject 返回项目全部角色
	ListByProject(ctx context.Context, projectID string) ([]*entity.Character, error)

	// UpsertForProject 按角色名写入分析结果，已有角色保留 ID
	UpsertForProject(ctx context.Context, projectID string, characters []*entity.Character) error
}
