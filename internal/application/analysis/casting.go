package analysis

import (
	"context"
	"fmt"
	"strings"

	"film-ai-api/internal/domain/entity"
	wfmodel "film-ai-api/internal/workflow/model"
	wfnode "film-ai-api/internal/workflow/node"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/resilience"
)

const missingFromResponse = "character not covered by model response"

type castingSuggestionDTO struct {
	CharacterName string                              `json:"character_name"`
	Primary       wfnode.List[entity.ActorSuggestion] `json:"primary"`
	Alternates    wfnode.List[entity.ActorSuggestion] `json:"alternates"`
}

type castingResponse struct {
	Suggestions wfnode.List[castingSuggestionDTO]       `json:"suggestions"`
	Ensembles   wfnode.List[entity.EnsembleCombination] `json:"ensembles"`
}

// SuggestCasting 为每个角色给出选角建议。
// 角色按批次顺序调用，批次间固定间隔；结果与输入角色一一对应，响应未覆盖的角色标记 Missing。
func (a *Analyzer) SuggestCasting(ctx context.Context, project *entity.Project, chars []*entity.Character) (*entity.CastingResult, error) {
	if len(chars) == 0 {
		return nil, apperrors.ErrDependencyFailure.WithDetail("no characters to cast")
	}

	tier := project.Tier()
	result := &entity.CastingResult{
		BudgetTier:  tier,
		Suggestions: make([]entity.CastingSuggestion, len(chars)),
	}
	for i, c := range chars {
		result.Suggestions[i] = entity.CastingSuggestion{CharacterName: c.Name}
	}

	for start := 0; start < len(chars); start += castingBatchSize {
		if start > 0 {
			if err := a.pause(ctx); err != nil {
				return nil, err
			}
		}
		end := min(start+castingBatchSize, len(chars))
		batch := chars[start:end]

		resp, err := resilience.Retry(ctx, a.retryPolicy(ctx, string(entity.StageCasting)),
			func(ctx context.Context, _ int) (*castingResponse, error) {
				return a.castBatch(ctx, project, tier, batch)
			})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn(ctx, "casting batch failed",
				"characters", len(batch),
				"error", err.Error(),
			)
			for i := start; i < end; i++ {
				result.Suggestions[i].Missing = true
				result.Suggestions[i].Error = err.Error()
			}
			continue
		}

		a.mergeCasting(ctx, result, start, end, resp)
	}

	for _, s := range result.Suggestions {
		if s.Missing {
			result.Missing = append(result.Missing, s.CharacterName)
		}
	}
	if len(result.Missing) == len(chars) {
		return nil, apperrors.ErrStageFailed.WithDetail("no casting suggestions for any character")
	}
	if len(result.Missing) > 0 {
		logger.Warn(ctx, "casting incomplete",
			"missing", strings.Join(result.Missing, ","),
			"requested", len(chars),
		)
	}
	return result, nil
}

func (a *Analyzer) castBatch(ctx context.Context, project *entity.Project, tier entity.BudgetTier, batch []*entity.Character) (*castingResponse, error) {
	raw, err := a.run(ctx, string(entity.StageCasting), &wfmodel.StageInput{
		Prompt: workflowprompt.PromptCastingV1,
		Vars: map[string]any{
			"title":       project.Title,
			"budget_tier": string(tier),
			"characters":  wfnode.BuildCharactersBlock(batch),
		},
		ResponseFormat: workflowport.ResponseFormatJSON,
	})
	if err != nil {
		return nil, err
	}

	var resp castingResponse
	if err := wfnode.ExtractInto(raw, wfnode.ExtractOptions{Expect: wfnode.ShapeObject, RequiredField: "character_name"}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// mergeCasting 按角色名把响应写回 [start, end) 区间，未覆盖者标记 Missing
func (a *Analyzer) mergeCasting(ctx context.Context, result *entity.CastingResult, start, end int, resp *castingResponse) {
	byName := make(map[string]castingSuggestionDTO, len(resp.Suggestions))
	for _, s := range resp.Suggestions {
		key := strings.ToLower(strings.TrimSpace(s.CharacterName))
		if _, ok := byName[key]; !ok {
			byName[key] = s
		}
	}

	for i := start; i < end; i++ {
		sug := &result.Suggestions[i]
		dto, ok := byName[strings.ToLower(strings.TrimSpace(sug.CharacterName))]
		if !ok {
			sug.Missing = true
			sug.Error = missingFromResponse
			continue
		}
		sug.Primary = a.validActors(ctx, sug.CharacterName, dto.Primary)
		sug.Alternates = a.validActors(ctx, sug.CharacterName, dto.Alternates)
		if len(sug.Primary) == 0 {
			sug.Missing = true
			sug.Error = fmt.Sprintf("no valid primary suggestion for %s", sug.CharacterName)
		}
	}

	for _, e := range resp.Ensembles {
		if strings.TrimSpace(e.Name) != "" && len(e.Cast) > 0 {
			result.Ensembles = append(result.Ensembles, e)
		}
	}
}

func (a *Analyzer) validActors(ctx context.Context, character string, in []entity.ActorSuggestion) []entity.ActorSuggestion {
	out := make([]entity.ActorSuggestion, 0, len(in))
	for _, s := range in {
		s.Name = strings.TrimSpace(s.Name)
		if err := a.check(&s); err != nil {
			logger.Warn(ctx, "rejected actor suggestion",
				"character", character,
				"actor", s.Name,
				"error", err.Error(),
			)
			continue
		}
		out = append(out, s)
	}
	return out
}

// ActorAnalysisRequest 单个演员适配分析请求
type ActorAnalysisRequest struct {
	CharacterName string
	ActorName     string
	Context       string
}

// AnalyzeActor 同步评估某演员是否适合某角色，不经过流水线
func (a *Analyzer) AnalyzeActor(ctx context.Context, req ActorAnalysisRequest) (*entity.ActorAnalysis, error) {
	character := strings.TrimSpace(req.CharacterName)
	actor := strings.TrimSpace(req.ActorName)
	if character == "" || actor == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("character_name and actor_name are required")
	}

	raw, err := a.run(ctx, "actor_analysis", &wfmodel.StageInput{
		Prompt: workflowprompt.PromptActorAnalysisV1,
		Vars: map[string]any{
			"character_name": character,
			"actor_name":     actor,
			"context":        wfnode.TruncateByRunes(strings.TrimSpace(req.Context), a.cfg.ScriptCharBudget),
		},
		ResponseFormat: workflowport.ResponseFormatJSON,
	})
	if err != nil {
		return nil, err
	}

	var out entity.ActorAnalysis
	if err := wfnode.ExtractInto(raw, wfnode.ExtractOptions{Expect: wfnode.ShapeObject, RequiredField: "fit_score"}, &out); err != nil {
		return nil, err
	}
	out.CharacterName = character
	out.ActorName = actor
	if err := a.check(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
