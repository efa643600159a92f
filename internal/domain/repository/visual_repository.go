package repository

import (
	"context"

	"film-ai-api/internal/domain/entity"
)

// ProfileRepository 角色一致性描述仓储接口
type ProfileRepository interface {
	// Get 获取角色描述，不存在返回 nil, nil
	Get(ctx context.Context, projectID, characterName string) (*entity.ConsistencyProfile, error)

	// ListByProject 返回项目全部角色描述
	ListByProject(ctx context.Context, projectID string) ([]*entity.ConsistencyProfile, error)

	// Save 按 (project, character) 创建或更新
	Save(ctx context.Context, profile *entity.ConsistencyProfile) error
}

// ArtifactRepository 分镜图仓储接口
type ArtifactRepository interface {
	// GetByScene 获取场景分镜，不存在返回 nil, nil
	GetByScene(ctx context.Context, sceneID string) (*entity.VisualArtifact, error)

	// ListByProject 返回项目全部分镜
	ListByProject(ctx context.Context, projectID string) ([]*entity.VisualArtifact, error)

	// Create 创建分镜记录；同一场景已存在时返回 ErrArtifactExists
	Create(ctx context.Context, artifact *entity.VisualArtifact) error
}

// VisualStatusRepository 视觉批次场景状态仓储接口
type VisualStatusRepository interface {
	// Save 创建或更新单场景状态
	Save(ctx context.Context, status *entity.VisualSceneStatus) error

	// ListByProject 按场景号升序返回状态
	ListByProject(ctx context.Context, projectID string) ([]*entity.VisualSceneStatus, error)
}
