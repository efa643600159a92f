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

type characterDTO struct {
	Name          string                           `json:"name"`
	Description   string                           `json:"description"`
	Demographics  string                           `json:"demographics"`
	Personality   wfnode.List[string]              `json:"personality"`
	Importance    string                           `json:"importance"`
	ScreenTime    string                           `json:"screen_time"`
	CharacterArc  string                           `json:"character_arc"`
	Relationships wfnode.List[entity.Relationship] `json:"relationships"`
}

type characterResponse struct {
	Characters               wfnode.List[characterDTO] `json:"characters"`
	RelationshipExplanations wfnode.List[string]       `json:"relationship_explanations"`
}

// AnalyzeCharacters 基于场景内容分析角色与关系
func (a *Analyzer) AnalyzeCharacters(ctx context.Context, project *entity.Project, scenes []*entity.Scene) (*entity.CharacterAnalysis, error) {
	if len(scenes) == 0 {
		return nil, apperrors.ErrDependencyFailure.WithDetail("no scenes to analyze")
	}

	raw, err := a.run(ctx, string(entity.StageCharacters), &wfmodel.StageInput{
		Prompt: workflowprompt.PromptCharactersV1,
		Vars: map[string]any{
			"title":  project.Title,
			"scenes": wfnode.BuildScenesBlock(scenes, a.cfg.ScriptCharBudget),
		},
		ResponseFormat: workflowport.ResponseFormatJSON,
	})
	if err != nil {
		return nil, err
	}

	var resp characterResponse
	if err := wfnode.ExtractInto(raw, wfnode.ExtractOptions{Expect: wfnode.ShapeObject, RequiredField: "characters"}, &resp); err != nil {
		return nil, err
	}

	out := &entity.CharacterAnalysis{}
	seen := make(map[string]struct{}, len(resp.Characters))
	for _, d := range resp.Characters {
		name := strings.TrimSpace(d.Name)
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}

		rels := make([]entity.Relationship, 0, len(d.Relationships))
		for _, r := range d.Relationships {
			r.Character = strings.TrimSpace(r.Character)
			if err := a.check(&r); err != nil {
				logger.Warn(ctx, "rejected character relationship",
					"character", name,
					"related", r.Character,
					"error", err.Error(),
				)
				continue
			}
			rels = append(rels, r)
		}

		c := &entity.Character{
			ProjectID:     project.ID,
			Name:          name,
			Description:   strings.TrimSpace(d.Description),
			Demographics:  strings.TrimSpace(d.Demographics),
			Personality:   pq.StringArray(cleanNames(d.Personality)),
			Importance:    entity.NormalizeImportance(d.Importance),
			ScreenTime:    strings.TrimSpace(d.ScreenTime),
			CharacterArc:  strings.TrimSpace(d.CharacterArc),
			Relationships: rels,
		}
		if err := a.check(c); err != nil {
			logger.Warn(ctx, "rejected extracted character", "name", name, "error", err.Error())
			continue
		}
		seen[key] = struct{}{}
		out.Characters = append(out.Characters, c)
	}

	if len(out.Characters) == 0 {
		return nil, apperrors.ErrExtractionFailure.WithDetail("no valid characters in response")
	}
	for _, e := range resp.RelationshipExplanations {
		if e = strings.TrimSpace(e); e != "" {
			out.RelationshipExplanations = append(out.RelationshipExplanations, e)
		}
	}
	return out, nil
}
