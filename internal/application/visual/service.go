// Package visual 生成分镜：先为每个角色准备一致性描述，再逐场景出图。
// 场景按顺序处理，单场景有限次重试，跨场景连续失败触发整体暂停。
package visual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/domain/repository"
	workflowchain "film-ai-api/internal/workflow/chain"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/resilience"
)

const (
	defaultMaxAttempts      = 3
	defaultBaseDelay        = 2 * time.Second
	defaultItemDelay        = time.Second
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 60 * time.Second
	profileSceneBudget      = 12000
)

// BatchLock 项目级批次锁。Start 以批次 ID 占用，worker 执行时 Claim 为执行者标识。
type BatchLock interface {
	Acquire(ctx context.Context, projectID, runID string) (bool, error)
	Claim(ctx context.Context, projectID, fromID, toID string) (bool, error)
	Release(ctx context.Context, projectID, runID string) error
	Held(ctx context.Context, projectID string) (bool, error)
	RequestCancel(ctx context.Context, projectID string) error
	CancelRequested(ctx context.Context, projectID string) (bool, error)
}

// Dispatcher 投递分镜批次任务
type Dispatcher interface {
	DispatchVisual(ctx context.Context, job *entity.VisualJob) error
}

// ProfileCache 一致性描述缓存，未命中返回 nil, nil
type ProfileCache interface {
	GetProfile(ctx context.Context, projectID, characterName string) (*entity.ConsistencyProfile, error)
	SetProfile(ctx context.Context, profile *entity.ConsistencyProfile) error
}

// ObjectStore 持久保存生成的图片
type ObjectStore interface {
	// StoreImage 把 sourceURL 指向的图片写入对象存储，返回对象键与可访问 URL
	StoreImage(ctx context.Context, project *entity.Project, scene *entity.Scene, sourceURL string) (key string, url string, err error)
}

// Service 分镜批次服务
type Service struct {
	projects  repository.ProjectRepository
	scenes    repository.SceneRepository
	profiles  repository.ProfileRepository
	artifacts repository.ArtifactRepository
	statuses  repository.VisualStatusRepository

	chain      *workflowchain.StageChain
	images     workflowport.ImageBackend
	store      ObjectStore
	cache      ProfileCache
	lock       BatchLock
	dispatcher Dispatcher

	cfg          config.VisualConfig
	imageOptions workflowport.ImageOptions
	group        singleflight.Group

	sleep func(ctx context.Context, d time.Duration) error
}

// NewService 创建分镜服务
func NewService(
	cfg *config.Config,
	generator workflowport.ContentGenerator,
	images workflowport.ImageBackend,
	store ObjectStore,
	cache ProfileCache,
	lock BatchLock,
	dispatcher Dispatcher,
	projects repository.ProjectRepository,
	scenes repository.SceneRepository,
	profiles repository.ProfileRepository,
	artifacts repository.ArtifactRepository,
	statuses repository.VisualStatusRepository,
) *Service {
	vc := cfg.Visual
	if vc.MaxAttempts <= 0 {
		vc.MaxAttempts = defaultMaxAttempts
	}
	if vc.BaseDelay <= 0 {
		vc.BaseDelay = defaultBaseDelay
	}
	if vc.ItemDelay <= 0 {
		vc.ItemDelay = defaultItemDelay
	}
	if vc.BreakerThreshold <= 0 {
		vc.BreakerThreshold = defaultBreakerThreshold
	}
	if vc.BreakerCooldown <= 0 {
		vc.BreakerCooldown = defaultBreakerCooldown
	}

	return &Service{
		projects:   projects,
		scenes:     scenes,
		profiles:   profiles,
		artifacts:  artifacts,
		statuses:   statuses,
		chain:      workflowchain.NewStageChain(generator, workflowprompt.NewRegistry()),
		images:     images,
		store:      store,
		cache:      cache,
		lock:       lock,
		dispatcher: dispatcher,
		cfg:        vc,
		imageOptions: workflowport.ImageOptions{
			AspectRatio: cfg.Image.AspectRatio,
			SafetyLevel: cfg.Image.SafetyLevel,
		},
		sleep: resilience.Sleep,
	}
}

// BatchReport 一次批次执行的结果统计
type BatchReport struct {
	Profiles  int `json:"profiles"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Start 受理分镜批次：占用批次锁、初始化场景状态并投递任务
func (s *Service) Start(ctx context.Context, projectID string) (*entity.VisualJob, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperrors.ErrProjectNotFound
	}
	scenes, err := s.scenes.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, apperrors.ErrDependencyFailure.WithDetail("project has no extracted scenes")
	}

	batchID := uuid.NewString()
	ok, err := s.lock.Acquire(ctx, projectID, batchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrConflict.WithDetail("visual batch already running for project")
	}

	for _, sc := range scenes {
		if err := s.saveStatus(ctx, project.ID, sc, entity.VisualStatusPending, 0, ""); err != nil {
			s.release(ctx, projectID, batchID)
			return nil, err
		}
	}

	job := &entity.VisualJob{BatchID: batchID, ProjectID: projectID, RequestedAt: time.Now()}
	if err := s.dispatcher.DispatchVisual(ctx, job); err != nil {
		s.release(ctx, projectID, batchID)
		return nil, err
	}
	logger.Info(ctx, "visual batch dispatched", "project_id", projectID, "batch_id", batchID, "scenes", len(scenes))
	return job, nil
}

// Status 返回项目各场景的出图状态
func (s *Service) Status(ctx context.Context, projectID string) ([]*entity.VisualSceneStatus, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperrors.ErrProjectNotFound
	}
	return s.statuses.ListByProject(ctx, projectID)
}

// Cancel 请求取消项目正在执行的批次，批次在下一个场景边界停止
func (s *Service) Cancel(ctx context.Context, projectID string) error {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project == nil {
		return apperrors.ErrProjectNotFound
	}
	held, err := s.lock.Held(ctx, projectID)
	if err != nil {
		return err
	}
	if !held {
		return apperrors.ErrConflict.WithDetail("no active visual batch for project")
	}
	if err := s.lock.RequestCancel(ctx, projectID); err != nil {
		return err
	}
	logger.Info(ctx, "visual batch cancel requested", "project_id", projectID)
	return nil
}

// Execute 在 worker 中执行批次：Phase A 准备角色描述，Phase B 逐场景出图。
// 重复投递或锁已被新批次占用时直接确认，不再出图。
func (s *Service) Execute(ctx context.Context, job *entity.VisualJob) (*BatchReport, error) {
	holder := job.BatchID + ":" + uuid.NewString()
	ok, err := s.lock.Claim(ctx, job.ProjectID, job.BatchID, holder)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Warn(ctx, "visual batch lock held elsewhere, skipping job",
			"project_id", job.ProjectID,
			"batch_id", job.BatchID,
		)
		return &BatchReport{}, nil
	}
	defer s.release(context.WithoutCancel(ctx), job.ProjectID, holder)
	return s.Generate(ctx, job.ProjectID)
}

// Generate 同步执行一次完整批次，已有分镜的场景跳过
func (s *Service) Generate(ctx context.Context, projectID string) (*BatchReport, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperrors.ErrProjectNotFound
	}
	scenes, err := s.scenes.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, apperrors.ErrDependencyFailure.WithDetail("project has no extracted scenes")
	}

	profiles, err := s.EnsureProfiles(ctx, project, scenes)
	if err != nil {
		return nil, err
	}

	report, err := s.renderScenes(ctx, project, scenes, profiles)
	if report != nil {
		report.Profiles = len(profiles)
		logger.Info(ctx, "visual batch finished",
			"project_id", projectID,
			"profiles", report.Profiles,
			"completed", report.Completed,
			"failed", report.Failed,
			"skipped", report.Skipped,
		)
	}
	return report, err
}

func (s *Service) saveStatus(ctx context.Context, projectID string, sc *entity.Scene, status entity.VisualStatus, attempts int, msg string) error {
	return s.statuses.Save(ctx, &entity.VisualSceneStatus{
		ProjectID:    projectID,
		SceneID:      sc.ID,
		SceneNumber:  sc.SceneNumber,
		Status:       status,
		Attempts:     attempts,
		ErrorMessage: msg,
	})
}

func (s *Service) release(ctx context.Context, projectID, batchID string) {
	if err := s.lock.Release(ctx, projectID, batchID); err != nil {
		logger.Warn(ctx, "failed to release visual batch lock", "project_id", projectID, "error", err.Error())
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sceneLabel(sc *entity.Scene) string {
	return fmt.Sprintf("scene %d", sc.SceneNumber)
}
