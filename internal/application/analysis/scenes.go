package analysis

import (
	"context"
	"strings"

	"github.com/lib/pq"

	"film-ai-api/internal/domain/entity"
	wfmodel "film-ai-api/internal/workflow/model"
	wfnode "film-ai-api/internal/workflow/node"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
)

type sceneDTO struct {
	SceneNumber int                 `json:"scene_number"`
	Location    string              `json:"location"`
	TimeOfDay   string              `json:"time_of_day"`
	Description string              `json:"description"`
	Characters  wfnode.List[string] `json:"characters"`
	Content     string              `json:"content"`
	PageStart   float64             `json:"page_start"`
	PageEnd     float64             `json:"page_end"`
	Duration    float64             `json:"duration"`
	VFXNeeds    wfnode.List[string] `json:"vfx_needs"`
	Placement   wfnode.List[string] `json:"product_placement_opportunities"`
}

// ExtractScenes 从剧本拆分场景，保持剧本中的先后顺序
func (a *Analyzer) ExtractScenes(ctx context.Context, project *entity.Project) ([]*entity.Scene, error) {
	if project == nil || strings.TrimSpace(project.Script) == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("project script is empty")
	}

	raw, err := a.run(ctx, string(entity.StageScenes), &wfmodel.StageInput{
		Prompt: workflowprompt.PromptScenesV1,
		Vars: map[string]any{
			"title":  project.Title,
			"genre":  project.Genre,
			"script": wfnode.TruncateAtLine(project.Script, a.cfg.ScriptCharBudget),
		},
		// JSON 模式只允许对象，数组输出走文本模式
		ResponseFormat: workflowport.ResponseFormatText,
	})
	if err != nil {
		return nil, err
	}

	var dtos []sceneDTO
	if err := wfnode.ExtractInto(raw, wfnode.ExtractOptions{Expect: wfnode.ShapeArray, RequiredField: "scene_number"}, &dtos); err != nil {
		return nil, err
	}

	seen := make(map[int]struct{}, len(dtos))
	scenes := make([]*entity.Scene, 0, len(dtos))
	for i, d := range dtos {
		s := &entity.Scene{
			ProjectID:                     project.ID,
			SceneNumber:                   d.SceneNumber,
			Location:                      strings.TrimSpace(d.Location),
			TimeOfDay:                     strings.TrimSpace(d.TimeOfDay),
			Description:                   strings.TrimSpace(d.Description),
			Characters:                    pq.StringArray(cleanNames(d.Characters)),
			Content:                       strings.TrimSpace(d.Content),
			PageStart:                     d.PageStart,
			PageEnd:                       d.PageEnd,
			Duration:                      d.Duration,
			VFXNeeds:                      pq.StringArray(cleanTags(d.VFXNeeds)),
			ProductPlacementOpportunities: pq.StringArray(cleanTags(d.Placement)),
		}
		if err := a.check(s); err != nil {
			logger.Warn(ctx, "rejected extracted scene", "index", i, "error", err.Error())
			continue
		}
		if _, dup := seen[s.SceneNumber]; dup {
			logger.Warn(ctx, "rejected duplicate scene number", "scene_number", s.SceneNumber)
			continue
		}
		seen[s.SceneNumber] = struct{}{}
		scenes = append(scenes, s)
	}

	if len(scenes) == 0 {
		return nil, apperrors.ErrExtractionFailure.WithDetail("no valid scenes in response")
	}
	return scenes, nil
}

// cleanNames 去空白、去重（忽略大小写），保留首次出现的写法
func cleanNames(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		k := strings.ToLower(n)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	return out
}

// cleanTags 标签统一小写
func cleanTags(in []string) []string {
	out := cleanNames(in)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}
