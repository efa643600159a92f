package visual

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/domain/repository"
	wfnode "film-ai-api/internal/workflow/node"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/metrics"
	"film-ai-api/pkg/resilience"
)

const scenePromptBudget = 1500

// errCancelRequested 批次收到取消请求
var errCancelRequested = errors.New("cancelled by request")

// renderScenes 逐场景出图。单场景重试耗尽后记为失败并继续；
// 连续失败达到阈值时在下一场景前暂停冷却时间。
// 每个场景开始前检查取消请求，收到后剩余场景记为取消并正常返回。
func (s *Service) renderScenes(ctx context.Context, project *entity.Project, scenes []*entity.Scene, profiles map[string]*entity.ConsistencyProfile) (*BatchReport, error) {
	report := &BatchReport{}

	breaker := resilience.NewBreaker(s.cfg.BreakerThreshold, s.cfg.BreakerCooldown).WithSleep(s.sleep)
	breaker.OnTrip = func(consecutive int, cooldown time.Duration) {
		metrics.VisualBreakerTrips.Inc()
		logger.Warn(ctx, "visual batch paused after consecutive failures",
			"project_id", project.ID,
			"consecutive_failures", consecutive,
			"cooldown", cooldown.String(),
		)
	}

	generated := 0
	for i, sc := range scenes {
		if err := ctx.Err(); err != nil {
			s.abandon(project.ID, scenes[i:], err)
			return report, err
		}
		if s.cancelRequested(ctx, project.ID) {
			s.abandon(project.ID, scenes[i:], errCancelRequested)
			return report, nil
		}

		existing, err := s.artifacts.GetByScene(ctx, sc.ID)
		if err != nil {
			return report, err
		}
		if existing != nil {
			report.Skipped++
			metrics.VisualSceneTotal.WithLabelValues(string(entity.VisualStatusSkipped)).Inc()
			if err := s.saveStatus(ctx, project.ID, sc, entity.VisualStatusSkipped, 0, ""); err != nil {
				return report, err
			}
			continue
		}

		if generated > 0 {
			if err := s.sleep(ctx, s.cfg.ItemDelay); err != nil {
				s.abandon(project.ID, scenes[i:], err)
				return report, err
			}
		}
		if err := breaker.Wait(ctx); err != nil {
			err = apperrors.ErrCircuitOpen.WithDetail("interrupted during cooldown").WithError(err)
			s.abandon(project.ID, scenes[i:], err)
			return report, err
		}
		generated++

		if err := s.saveStatus(ctx, project.ID, sc, entity.VisualStatusProcessing, 0, ""); err != nil {
			return report, err
		}

		attempts, err := s.renderScene(ctx, project, sc, profiles)
		switch {
		case err == nil:
			breaker.RecordSuccess()
			report.Completed++
			metrics.VisualSceneTotal.WithLabelValues(string(entity.VisualStatusCompleted)).Inc()
			_ = s.saveStatus(ctx, project.ID, sc, entity.VisualStatusCompleted, attempts, "")
		case errors.Is(err, repository.ErrArtifactExists):
			report.Skipped++
			metrics.VisualSceneTotal.WithLabelValues(string(entity.VisualStatusSkipped)).Inc()
			_ = s.saveStatus(ctx, project.ID, sc, entity.VisualStatusSkipped, attempts, "")
		case isCancel(err):
			s.abandon(project.ID, scenes[i:], err)
			return report, err
		default:
			breaker.RecordFailure()
			report.Failed++
			metrics.VisualSceneTotal.WithLabelValues(string(entity.VisualStatusFailed)).Inc()
			logger.Error(ctx, "scene image generation failed, skipping", err,
				"project_id", project.ID,
				"scene_number", sc.SceneNumber,
				"attempts", attempts,
			)
			_ = s.saveStatus(ctx, project.ID, sc, entity.VisualStatusFailed, attempts, err.Error())
		}
	}
	return report, nil
}

// renderScene 带重试地生成单场景图片并落库，返回实际尝试次数
func (s *Service) renderScene(ctx context.Context, project *entity.Project, sc *entity.Scene, profiles map[string]*entity.ConsistencyProfile) (int, error) {
	prompt, present := BuildScenePrompt(project, sc, profiles)

	attempts := 0
	policy := resilience.Policy{
		MaxAttempts: s.cfg.MaxAttempts,
		BaseDelay:   s.cfg.BaseDelay,
		Retryable: func(err error) bool {
			return !isCancel(err)
		},
		OnRetry: func(attempt int, err error, next time.Duration) {
			logger.Warn(ctx, "scene image attempt failed, retrying",
				"project_id", project.ID,
				"scene_number", sc.SceneNumber,
				"attempt", attempt,
				"next_delay", next.String(),
				"error", err.Error(),
			)
		},
	}
	imageURL, err := resilience.Retry(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		attempts++
		return s.images.GenerateImage(ctx, prompt, s.imageOptions)
	})
	if err != nil {
		return attempts, err
	}

	key, storedURL := "", imageURL
	if s.store != nil {
		key, storedURL, err = s.store.StoreImage(ctx, project, sc, imageURL)
		if err != nil {
			return attempts, fmt.Errorf("store %s image: %w", sceneLabel(sc), err)
		}
	}

	err = s.artifacts.Create(ctx, &entity.VisualArtifact{
		ProjectID:         project.ID,
		SceneID:           sc.ID,
		ImageURL:          storedURL,
		ObjectKey:         key,
		Prompt:            prompt,
		CharactersPresent: present,
		GeneratedAt:       time.Now(),
	})
	return attempts, err
}

func (s *Service) cancelRequested(ctx context.Context, projectID string) bool {
	requested, err := s.lock.CancelRequested(ctx, projectID)
	if err != nil {
		logger.Warn(ctx, "failed to check visual cancel flag", "project_id", projectID, "error", err.Error())
		return false
	}
	return requested
}

// abandon 取消后把尚未处理的场景标记为失败；已生成的分镜保留
func (s *Service) abandon(projectID string, remaining []*entity.Scene, cause error) {
	ctx := context.Background()
	for _, sc := range remaining {
		_ = s.saveStatus(ctx, projectID, sc, entity.VisualStatusFailed, 0, "cancelled: "+cause.Error())
	}
	logger.Warn(ctx, "visual batch cancelled", "project_id", projectID, "remaining", len(remaining))
}

// BuildScenePrompt 组合场景内容与在场角色的一致性描述，返回 prompt 与在场角色名
func BuildScenePrompt(project *entity.Project, sc *entity.Scene, profiles map[string]*entity.ConsistencyProfile) (string, []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Storyboard frame for %q, scene %d.\n", project.Title, sc.SceneNumber)
	if sc.Location != "" {
		fmt.Fprintf(&b, "Setting: %s", sc.Location)
		if sc.TimeOfDay != "" {
			fmt.Fprintf(&b, " (%s)", sc.TimeOfDay)
		}
		b.WriteString("\n")
	}
	action := sc.Description
	if action == "" {
		action = sc.Content
	}
	if action != "" {
		fmt.Fprintf(&b, "Action: %s\n", wfnode.TruncateByRunes(strings.TrimSpace(action), scenePromptBudget))
	}

	var present []string
	for _, name := range sc.Characters {
		p, ok := profiles[profileKey(name)]
		if !ok {
			continue
		}
		present = append(present, p.CharacterName)
		fmt.Fprintf(&b, "Character %s: %s. Wearing %s.", p.CharacterName, p.PhysicalDescription, p.CostumeDescription)
		if p.VisualStyle != "" {
			fmt.Fprintf(&b, " Style: %s.", p.VisualStyle)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), present
}
