package visual

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"film-ai-api/internal/domain/entity"
	llmctx "film-ai-api/internal/domain/service"
	wfmodel "film-ai-api/internal/workflow/model"
	wfnode "film-ai-api/internal/workflow/node"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	"film-ai-api/pkg/logger"
)

var profileValidate = validator.New()

type profileDTO struct {
	PhysicalDescription string `json:"physical_description" validate:"required"`
	CostumeDescription  string `json:"costume_description" validate:"required"`
	VisualStyle         string `json:"visual_style"`
}

// EnsureProfiles 为场景中出现的每个角色准备一致性描述，返回以小写名称为键的映射。
// 生成失败时使用确定性的兜底描述，因此每个角色都会有描述。
func (s *Service) EnsureProfiles(ctx context.Context, project *entity.Project, scenes []*entity.Scene) (map[string]*entity.ConsistencyProfile, error) {
	names := DistinctCharacters(scenes)
	out := make(map[string]*entity.ConsistencyProfile, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := s.profileFor(ctx, project, name, scenes)
		if err != nil {
			return nil, err
		}
		out[profileKey(name)] = p
	}
	return out, nil
}

// profileFor 依次查缓存、存储，均未命中或只有兜底描述时才生成；同一角色的并发请求合并为一次
func (s *Service) profileFor(ctx context.Context, project *entity.Project, name string, scenes []*entity.Scene) (*entity.ConsistencyProfile, error) {
	v, err, _ := s.group.Do(project.ID+"/"+profileKey(name), func() (any, error) {
		if s.cache != nil {
			cached, err := s.cache.GetProfile(ctx, project.ID, name)
			if err != nil {
				logger.Warn(ctx, "profile cache read failed", "character", name, "error", err.Error())
			} else if cached != nil {
				return cached, nil
			}
		}

		stored, err := s.profiles.Get(ctx, project.ID, name)
		if err != nil {
			return nil, err
		}
		// 兜底描述只是占位，后续批次重新尝试生成
		if stored == nil || stored.Fallback {
			fresh := s.generateProfile(ctx, project, name, scenes)
			if stored == nil || !fresh.Fallback {
				if err := s.profiles.Save(ctx, fresh); err != nil {
					return nil, err
				}
			}
			stored = fresh
		}

		if s.cache != nil && !stored.Fallback {
			if err := s.cache.SetProfile(ctx, stored); err != nil {
				logger.Warn(ctx, "profile cache write failed", "character", name, "error", err.Error())
			}
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.ConsistencyProfile), nil
}

func (s *Service) generateProfile(ctx context.Context, project *entity.Project, name string, scenes []*entity.Scene) *entity.ConsistencyProfile {
	ctx = llmctx.WithStage(ctx, "consistency_profile")
	raw, err := s.chain.Invoke(ctx, &wfmodel.StageInput{
		Prompt: workflowprompt.PromptConsistencyProfileV1,
		Vars: map[string]any{
			"title":          project.Title,
			"character_name": name,
			"scenes":         wfnode.BuildCharacterScenesBlock(name, scenes, profileSceneBudget),
		},
		Provider:       s.cfg.ProfileProvider,
		ResponseFormat: workflowport.ResponseFormatJSON,
	})
	if err == nil {
		var dto profileDTO
		err = wfnode.ExtractInto(raw, wfnode.ExtractOptions{Expect: wfnode.ShapeObject, RequiredField: "physical_description"}, &dto)
		if err == nil {
			err = profileValidate.Struct(&dto)
		}
		if err == nil {
			return &entity.ConsistencyProfile{
				ProjectID:           project.ID,
				CharacterName:       name,
				PhysicalDescription: strings.TrimSpace(dto.PhysicalDescription),
				CostumeDescription:  strings.TrimSpace(dto.CostumeDescription),
				VisualStyle:         strings.TrimSpace(dto.VisualStyle),
			}
		}
	}

	logger.Warn(ctx, "consistency profile generation failed, using fallback",
		"project_id", project.ID,
		"character", name,
		"error", err.Error(),
	)
	return FallbackProfile(project, name)
}

// FallbackProfile 由角色名与项目标题推导的确定性描述
func FallbackProfile(project *entity.Project, name string) *entity.ConsistencyProfile {
	return &entity.ConsistencyProfile{
		ProjectID:           project.ID,
		CharacterName:       name,
		PhysicalDescription: fmt.Sprintf("%s, a recurring character in %q, drawn with the same face, build and hair in every frame", name, project.Title),
		CostumeDescription:  fmt.Sprintf("%s's signature outfit, unchanged between scenes", name),
		VisualStyle:         fmt.Sprintf("cinematic storyboard sketch matching the tone of %q", project.Title),
		Fallback:            true,
	}
}

// DistinctCharacters 按首次出现顺序返回去重后的角色名（忽略大小写）
func DistinctCharacters(scenes []*entity.Scene) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sc := range scenes {
		for _, c := range sc.Characters {
			name := strings.TrimSpace(c)
			if name == "" {
				continue
			}
			key := profileKey(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

func profileKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
