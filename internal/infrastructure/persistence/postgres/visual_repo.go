package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/domain/repository"
)

// ProfileRepository 角色一致性描述仓储实现
type ProfileRepository struct {
	client *Client
}

// NewProfileRepository 创建描述仓储
func NewProfileRepository(client *Client) *ProfileRepository {
	return &ProfileRepository{client: client}
}

// Get 按角色名（忽略大小写）获取描述
func (r *ProfileRepository) Get(ctx context.Context, projectID, characterName string) (*entity.ConsistencyProfile, error) {
	ctx, span := tracer.Start(ctx, "postgres.ProfileRepository.Get")
	defer span.End()

	var p entity.ConsistencyProfile
	if err := getDB(ctx, r.client.db).
		First(&p, "project_id = ? AND LOWER(character_name) = ?", projectID, strings.ToLower(strings.TrimSpace(characterName))).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get consistency profile: %w", err)
	}
	return &p, nil
}

// ListByProject 返回项目全部角色描述
func (r *ProfileRepository) ListByProject(ctx context.Context, projectID string) ([]*entity.ConsistencyProfile, error) {
	ctx, span := tracer.Start(ctx, "postgres.ProfileRepository.ListByProject")
	defer span.End()

	var profiles []*entity.ConsistencyProfile
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Order("character_name ASC").
		Find(&profiles).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list consistency profiles: %w", err)
	}
	return profiles, nil
}

// Save 按 (project, character) 创建或更新
func (r *ProfileRepository) Save(ctx context.Context, profile *entity.ConsistencyProfile) error {
	ctx, span := tracer.Start(ctx, "postgres.ProfileRepository.Save")
	defer span.End()

	err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "character_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"physical_description", "costume_description", "visual_style", "fallback"}),
	}).Create(profile).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save consistency profile: %w", err)
	}
	return nil
}

// ArtifactRepository 分镜图仓储实现
type ArtifactRepository struct {
	client *Client
}

// NewArtifactRepository 创建分镜仓储
func NewArtifactRepository(client *Client) *ArtifactRepository {
	return &ArtifactRepository{client: client}
}

// GetByScene 获取场景分镜
func (r *ArtifactRepository) GetByScene(ctx context.Context, sceneID string) (*entity.VisualArtifact, error) {
	ctx, span := tracer.Start(ctx, "postgres.ArtifactRepository.GetByScene")
	defer span.End()

	var art entity.VisualArtifact
	if err := getDB(ctx, r.client.db).First(&art, "scene_id = ?", sceneID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get visual artifact: %w", err)
	}
	return &art, nil
}

// ListByProject 返回项目全部分镜
func (r *ArtifactRepository) ListByProject(ctx context.Context, projectID string) ([]*entity.VisualArtifact, error) {
	ctx, span := tracer.Start(ctx, "postgres.ArtifactRepository.ListByProject")
	defer span.End()

	var arts []*entity.VisualArtifact
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Order("generated_at ASC").
		Find(&arts).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list visual artifacts: %w", err)
	}
	return arts, nil
}

// Create 创建分镜记录；scene_id 唯一约束命中时返回 ErrArtifactExists
func (r *ArtifactRepository) Create(ctx context.Context, artifact *entity.VisualArtifact) error {
	ctx, span := tracer.Start(ctx, "postgres.ArtifactRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(artifact).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repository.ErrArtifactExists
		}
		span.RecordError(err)
		return fmt.Errorf("failed to create visual artifact: %w", err)
	}
	return nil
}

// VisualStatusRepository 视觉批次场景状态仓储实现
type VisualStatusRepository struct {
	client *Client
}

// NewVisualStatusRepository 创建状态仓储
func NewVisualStatusRepository(client *Client) *VisualStatusRepository {
	return &VisualStatusRepository{client: client}
}

// Save 创建或更新单场景状态
func (r *VisualStatusRepository) Save(ctx context.Context, status *entity.VisualSceneStatus) error {
	ctx, span := tracer.Start(ctx, "postgres.VisualStatusRepository.Save")
	defer span.End()

	if err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(status).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save visual status: %w", err)
	}
	return nil
}

// ListByProject 按场景号升序返回状态
func (r *VisualStatusRepository) ListByProject(ctx context.Context, projectID string) ([]*entity.VisualSceneStatus, error) {
	ctx, span := tracer.Start(ctx, "postgres.VisualStatusRepository.ListByProject")
	defer span.End()

	var statuses []*entity.VisualSceneStatus
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Order("scene_number ASC").
		Find(&statuses).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list visual status: %w", err)
	}
	return statuses, nil
}
