package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"film-ai-api/internal/domain/entity"
	wfmodel "film-ai-api/internal/workflow/model"
	wfnode "film-ai-api/internal/workflow/node"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
)

type locationGroupDTO struct {
	LocationType string                                `json:"location_type"`
	Candidates   wfnode.List[entity.LocationCandidate] `json:"candidates"`
}

type locationResponse struct {
	Groups wfnode.List[locationGroupDTO] `json:"groups"`
}

// SuggestLocations 按地点类型分组场景后请求真实取景地建议
func (a *Analyzer) SuggestLocations(ctx context.Context, project *entity.Project, scenes []*entity.Scene) (*entity.LocationResult, error) {
	groups := GroupScenesByLocation(scenes)
	if len(groups) == 0 {
		return nil, apperrors.ErrDependencyFailure.WithDetail("no scenes to analyze")
	}

	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("- %s (scenes %s)", g.LocationType, joinInts(g.SceneNumbers)))
	}

	raw, err := a.run(ctx, string(entity.StageLocations), &wfmodel.StageInput{
		Prompt: workflowprompt.PromptLocationsV1,
		Vars: map[string]any{
			"title":       project.Title,
			"budget_tier": string(project.Tier()),
			"locations":   strings.Join(lines, "\n"),
		},
		ResponseFormat: workflowport.ResponseFormatJSON,
	})
	if err != nil {
		return nil, err
	}

	var resp locationResponse
	if err := wfnode.ExtractInto(raw, wfnode.ExtractOptions{Expect: wfnode.ShapeObject, RequiredField: "location_type"}, &resp); err != nil {
		return nil, err
	}

	byType := make(map[string]locationGroupDTO, len(resp.Groups))
	for _, g := range resp.Groups {
		key := normalizeLocationType(g.LocationType)
		if _, ok := byType[key]; !ok {
			byType[key] = g
		}
	}

	covered := 0
	for i := range groups {
		dto, ok := byType[groups[i].LocationType]
		if !ok {
			continue
		}
		for _, c := range dto.Candidates {
			c.Name = strings.TrimSpace(c.Name)
			if err := a.check(&c); err != nil {
				logger.Warn(ctx, "rejected location candidate",
					"location_type", groups[i].LocationType,
					"error", err.Error(),
				)
				continue
			}
			groups[i].Candidates = append(groups[i].Candidates, c)
		}
		sortCandidates(groups[i].Candidates)
		if len(groups[i].Candidates) > 0 {
			covered++
		}
	}
	if covered == 0 {
		return nil, apperrors.ErrExtractionFailure.WithDetail("no location candidates matched any location type")
	}
	return &entity.LocationResult{Groups: groups}, nil
}

// GroupScenesByLocation 按首次出现顺序分组
func GroupScenesByLocation(scenes []*entity.Scene) []entity.LocationSuggestion {
	index := make(map[string]int)
	var groups []entity.LocationSuggestion
	for _, s := range scenes {
		if s == nil {
			continue
		}
		t := normalizeLocationType(s.Location)
		i, ok := index[t]
		if !ok {
			i = len(groups)
			index[t] = i
			groups = append(groups, entity.LocationSuggestion{LocationType: t})
		}
		groups[i].SceneNumbers = append(groups[i].SceneNumbers, s.SceneNumber)
	}
	return groups
}

// sortCandidates rank 升序，未给出 rank 的排在最后
func sortCandidates(cs []entity.LocationCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		ri, rj := cs[i].Rank, cs[j].Rank
		if ri <= 0 {
			return false
		}
		if rj <= 0 {
			return true
		}
		return ri < rj
	})
}

// normalizeLocationType 去掉 INT./EXT. 前缀与时间后缀，得到可分组的地点类型
func normalizeLocationType(loc string) string {
	s := strings.ToUpper(strings.TrimSpace(loc))
	for _, p := range []string{"INT./EXT.", "EXT./INT.", "INT/EXT", "I/E", "INT.", "EXT.", "INT ", "EXT "} {
		if strings.HasPrefix(s, p) {
			s = strings.TrimSpace(strings.TrimPrefix(s, p))
			break
		}
	}
	if i := strings.Index(s, " - "); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return "UNSPECIFIED"
	}
	return s
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
