// Package pipeline 按依赖顺序编排分析阶段，持久化每个阶段的状态与整体进度。
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/domain/repository"
)

// Stage 一个分析阶段
type Stage interface {
	Name() entity.StageName
	// Dependencies 必须已完成的上游阶段，任一未完成则本阶段以 DependencyFailure 失败
	Dependencies() []entity.StageName
	// After 仅约束执行顺序：同批请求时排在这些阶段之后，其产出存在则使用
	After() []entity.StageName
	// Run 执行阶段并返回简短的机器可读摘要
	Run(ctx context.Context, rc *RunContext) (string, error)
}

// StageSet 已注册的阶段
type StageSet []Stage

// Lookup 按名称查找阶段
func (s StageSet) Lookup(name entity.StageName) (Stage, bool) {
	for _, st := range s {
		if st.Name() == name {
			return st, true
		}
	}
	return nil, false
}

// RunContext 阶段执行时可用的项目数据与前序产出
type RunContext struct {
	Project *entity.Project
	RunID   string

	scenes     repository.SceneRepository
	characters repository.CharacterRepository
	results    repository.StageResultRepository
}

// Scenes 从存储读取项目场景，每次返回新的副本
func (rc *RunContext) Scenes(ctx context.Context) ([]*entity.Scene, error) {
	return rc.scenes.ListByProject(ctx, rc.Project.ID)
}

// Characters 从存储读取项目角色
func (rc *RunContext) Characters(ctx context.Context) ([]*entity.Character, error) {
	return rc.characters.ListByProject(ctx, rc.Project.ID)
}

// LoadResult 读取某阶段的持久化产出，不存在时返回 false
func (rc *RunContext) LoadResult(ctx context.Context, stage entity.StageName, v any) (bool, error) {
	res, err := rc.results.Get(ctx, rc.Project.ID, stage)
	if err != nil {
		return false, err
	}
	if res == nil || len(res.Payload) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(res.Payload, v); err != nil {
		return false, fmt.Errorf("decode %s result: %w", stage, err)
	}
	return true, nil
}

// SaveResult 持久化阶段产出
func (rc *RunContext) SaveResult(ctx context.Context, stage entity.StageName, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", stage, err)
	}
	return rc.results.Save(ctx, &entity.StageResult{
		ProjectID: rc.Project.ID,
		Stage:     stage,
		RunID:     rc.RunID,
		Payload:   payload,
	})
}
