package analysis

import (
	"context"
	"sort"

	"github.com/lib/pq"

	"film-ai-api/internal/domain/entity"
	wfmodel "film-ai-api/internal/workflow/model"
	wfnode "film-ai-api/internal/workflow/node"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
)

type placementResponse struct {
	Opportunities       wfnode.List[entity.PlacementOpportunity] `json:"opportunities"`
	CategorySuggestions wfnode.List[string]                      `json:"category_suggestions"`
}

// AnalyzePlacement 为场景打植入得分（1-100），按得分降序截取前 N 个，并写回场景的植入标签
func (a *Analyzer) AnalyzePlacement(ctx context.Context, project *entity.Project, scenes []*entity.Scene) (*entity.PlacementResult, error) {
	if len(scenes) == 0 {
		return nil, apperrors.ErrDependencyFailure.WithDetail("no scenes to analyze")
	}

	raw, err := a.run(ctx, string(entity.StagePlacement), &wfmodel.StageInput{
		Prompt: workflowprompt.PromptPlacementV1,
		Vars: map[string]any{
			"title":  project.Title,
			"scenes": wfnode.BuildScenesBlock(scenes, a.cfg.ScriptCharBudget),
		},
		ResponseFormat: workflowport.ResponseFormatJSON,
	})
	if err != nil {
		return nil, err
	}

	var resp placementResponse
	if err := wfnode.ExtractInto(raw, wfnode.ExtractOptions{Expect: wfnode.ShapeObject, RequiredField: "score"}, &resp); err != nil {
		return nil, err
	}

	byNumber := make(map[int]*entity.Scene, len(scenes))
	for _, s := range scenes {
		byNumber[s.SceneNumber] = s
	}

	seen := make(map[int]struct{}, len(resp.Opportunities))
	opps := make([]entity.PlacementOpportunity, 0, len(resp.Opportunities))
	for _, o := range resp.Opportunities {
		if err := a.check(&o); err != nil {
			logger.Warn(ctx, "rejected placement opportunity",
				"scene_number", o.SceneNumber,
				"score", o.Score,
				"error", err.Error(),
			)
			continue
		}
		if _, ok := byNumber[o.SceneNumber]; !ok {
			logger.Warn(ctx, "rejected placement for unknown scene", "scene_number", o.SceneNumber)
			continue
		}
		if _, dup := seen[o.SceneNumber]; dup {
			continue
		}
		seen[o.SceneNumber] = struct{}{}
		o.Categories = cleanTags(o.Categories)
		opps = append(opps, o)
	}

	RankPlacements(opps)
	if len(opps) > a.cfg.PlacementTopN {
		opps = opps[:a.cfg.PlacementTopN]
	}
	for _, o := range opps {
		byNumber[o.SceneNumber].ProductPlacementOpportunities = pq.StringArray(o.Categories)
	}

	return &entity.PlacementResult{
		Opportunities:       opps,
		CategorySuggestions: cleanTags(resp.CategorySuggestions),
	}, nil
}

// RankPlacements 得分降序，同分按场景号升序
func RankPlacements(opps []entity.PlacementOpportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].Score != opps[j].Score {
			return opps[i].Score > opps[j].Score
		}
		return opps[i].SceneNumber < opps[j].SceneNumber
	})
}

