package pipeline

import (
	"context"
	"fmt"

	"film-ai-api/internal/application/analysis"
	"film-ai-api/internal/domain/entity"
	apperrors "film-ai-api/pkg/errors"
)

// stageFunc 以函数实现 Stage
type stageFunc struct {
	name  entity.StageName
	deps  []entity.StageName
	after []entity.StageName
	run   func(ctx context.Context, rc *RunContext) (string, error)
}

func (s *stageFunc) Name() entity.StageName           { return s.name }
func (s *stageFunc) Dependencies() []entity.StageName { return s.deps }
func (s *stageFunc) After() []entity.StageName        { return s.after }

func (s *stageFunc) Run(ctx context.Context, rc *RunContext) (string, error) {
	return s.run(ctx, rc)
}

// NewStageSet 注册全部分析阶段
func NewStageSet(a *analysis.Analyzer) StageSet {
	return StageSet{
		&stageFunc{
			name: entity.StageScenes,
			run:  scenesStage(a),
		},
		&stageFunc{
			name: entity.StageCharacters,
			deps: []entity.StageName{entity.StageScenes},
			run:  charactersStage(a),
		},
		&stageFunc{
			name: entity.StageCasting,
			deps: []entity.StageName{entity.StageCharacters},
			run:  castingStage(a),
		},
		&stageFunc{
			name:  entity.StageVFX,
			deps:  []entity.StageName{entity.StageScenes},
			after: []entity.StageName{entity.StageCharacters},
			run:   vfxStage(a),
		},
		&stageFunc{
			name:  entity.StagePlacement,
			deps:  []entity.StageName{entity.StageScenes},
			after: []entity.StageName{entity.StageCharacters},
			run:   placementStage(a),
		},
		&stageFunc{
			name:  entity.StageLocations,
			deps:  []entity.StageName{entity.StageScenes},
			after: []entity.StageName{entity.StageCharacters},
			run:   locationsStage(a),
		},
		&stageFunc{
			name: entity.StageFinancial,
			after: []entity.StageName{
				entity.StageCasting, entity.StageVFX, entity.StagePlacement, entity.StageLocations,
			},
			run: financialStage(a),
		},
		&stageFunc{
			name: entity.StageSummary,
			deps: []entity.StageName{entity.StageScenes},
			after: []entity.StageName{
				entity.StageCharacters, entity.StageCasting, entity.StageVFX,
				entity.StagePlacement, entity.StageLocations, entity.StageFinancial,
			},
			run: summaryStage(a),
		},
	}
}

func scenesStage(a *analysis.Analyzer) func(context.Context, *RunContext) (string, error) {
	return func(ctx context.Context, rc *RunContext) (string, error) {
		scenes, err := a.ExtractScenes(ctx, rc.Project)
		if err != nil {
			return "", err
		}
		if err := rc.scenes.UpsertForProject(ctx, rc.Project.ID, scenes); err != nil {
			return "", err
		}
		if err := rc.SaveResult(ctx, entity.StageScenes, scenes); err != nil {
			return "", err
		}
		return fmt.Sprintf("scenes=%d", len(scenes)), nil
	}
}

func charactersStage(a *analysis.Analyzer) func(context.Context, *RunContext) (string, error) {
	return func(ctx context.Context, rc *RunContext) (string, error) {
		scenes, err := rc.Scenes(ctx)
		if err != nil {
			return "", err
		}
		res, err := a.AnalyzeCharacters(ctx, rc.Project, scenes)
		if err != nil {
			return "", err
		}
		if err := rc.characters.UpsertForProject(ctx, rc.Project.ID, res.Characters); err != nil {
			return "", err
		}
		if err := rc.SaveResult(ctx, entity.StageCharacters, res); err != nil {
			return "", err
		}
		return fmt.Sprintf("characters=%d relationships=%d", len(res.Characters), len(res.RelationshipExplanations)), nil
	}
}

func castingStage(a *analysis.Analyzer) func(context.Context, *RunContext) (string, error) {
	return func(ctx context.Context, rc *RunContext) (string, error) {
		chars, err := rc.Characters(ctx)
		if err != nil {
			return "", err
		}
		res, err := a.SuggestCasting(ctx, rc.Project, chars)
		if err != nil {
			return "", err
		}
		if err := rc.SaveResult(ctx, entity.StageCasting, res); err != nil {
			return "", err
		}
		return fmt.Sprintf("suggested=%d missing=%d", len(res.Suggestions)-len(res.Missing), len(res.Missing)), nil
	}
}

func vfxStage(a *analysis.Analyzer) func(context.Context, *RunContext) (string, error) {
	return func(ctx context.Context, rc *RunContext) (string, error) {
		scenes, err := rc.Scenes(ctx)
		if err != nil {
			return "", err
		}
		res, err := a.AnalyzeVFX(ctx, scenes)
		if err != nil {
			return "", err
		}

		analyzed := make(map[int]struct{}, len(res.Scenes))
		heavy := 0
		for _, r := range res.Scenes {
			analyzed[r.SceneNumber] = struct{}{}
			if r.IsVFX {
				heavy++
			}
		}
		for _, s := range scenes {
			if _, ok := analyzed[s.SceneNumber]; !ok {
				continue
			}
			if err := rc.scenes.UpdateVFXNeeds(ctx, s.ID, s.VFXNeeds); err != nil {
				return "", err
			}
		}
		if err := rc.SaveResult(ctx, entity.StageVFX, res); err != nil {
			return "", err
		}
		return fmt.Sprintf("analyzed=%d vfx=%d malformed=%d unanalyzed=%d",
			len(res.Scenes), heavy, len(res.Malformed), len(res.Unanalyzed)), nil
	}
}

func placementStage(a *analysis.Analyzer) func(context.Context, *RunContext) (string, error) {
	return func(ctx context.Context, rc *RunContext) (string, error) {
		scenes, err := rc.Scenes(ctx)
		if err != nil {
			return "", err
		}
		// 重跑时未进入前 N 的场景清空旧标签
		previous := make(map[string]bool, len(scenes))
		for _, s := range scenes {
			previous[s.ID] = len(s.ProductPlacementOpportunities) > 0
			s.ProductPlacementOpportunities = nil
		}

		res, err := a.AnalyzePlacement(ctx, rc.Project, scenes)
		if err != nil {
			return "", err
		}
		for _, s := range scenes {
			if len(s.ProductPlacementOpportunities) == 0 && !previous[s.ID] {
				continue
			}
			if err := rc.scenes.UpdatePlacementTags(ctx, s.ID, s.ProductPlacementOpportunities); err != nil {
				return "", err
			}
		}
		if err := rc.SaveResult(ctx, entity.StagePlacement, res); err != nil {
			return "", err
		}
		return fmt.Sprintf("opportunities=%d", len(res.Opportunities)), nil
	}
}

func locationsStage(a *analysis.Analyzer) func(context.Context, *RunContext) (string, error) {
	return func(ctx context.Context, rc *RunContext) (string, error) {
		scenes, err := rc.Scenes(ctx)
		if err != nil {
			return "", err
		}
		res, err := a.SuggestLocations(ctx, rc.Project, scenes)
		if err != nil {
			return "", err
		}
		if err := rc.SaveResult(ctx, entity.StageLocations, res); err != nil {
			return "", err
		}
		return fmt.Sprintf("location_types=%d", len(res.Groups)), nil
	}
}

func financialStage(a *analysis.Analyzer) func(context.Context, *RunContext) (string, error) {
	return func(ctx context.Context, rc *RunContext) (string, error) {
		in, err := loadSummaryInput(ctx, rc, false)
		if err != nil {
			return "", err
		}
		plan, err := a.PlanFinancials(ctx, rc.Project, analysis.BuildAnalysisDigest(in))
		if err != nil {
			return "", err
		}
		if err := rc.SaveResult(ctx, entity.StageFinancial, plan); err != nil {
			return "", err
		}
		return fmt.Sprintf("grand_total=%.2f narrative=%t", plan.GrandTotal, plan.Narrative != ""), nil
	}
}

func summaryStage(a *analysis.Analyzer) func(context.Context, *RunContext) (string, error) {
	return func(ctx context.Context, rc *RunContext) (string, error) {
		in, err := loadSummaryInput(ctx, rc, true)
		if err != nil {
			return "", err
		}
		summary := a.Summarize(ctx, rc.Project, in)
		if summary == nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", apperrors.ErrStageFailed.WithDetail("summary unavailable or below minimum length")
		}
		if err := rc.SaveResult(ctx, entity.StageSummary, summary); err != nil {
			return "", err
		}
		return fmt.Sprintf("summary_runes=%d", len([]rune(summary.Text))), nil
	}
}

type resultTarget struct {
	stage entity.StageName
	value any
	set   func()
}

// loadSummaryInput 读取当前可用的前序产出，缺失的保持 nil
func loadSummaryInput(ctx context.Context, rc *RunContext, withFinancial bool) (analysis.SummaryInput, error) {
	var in analysis.SummaryInput

	scenes, err := rc.Scenes(ctx)
	if err != nil {
		return in, err
	}
	in.Scenes = scenes

	var (
		chars     entity.CharacterAnalysis
		casting   entity.CastingResult
		vfx       entity.VFXResult
		placement entity.PlacementResult
		locations entity.LocationResult
		financial entity.FinancialPlan
	)
	targets := []resultTarget{
		{entity.StageCharacters, &chars, func() { in.Characters = &chars }},
		{entity.StageCasting, &casting, func() { in.Casting = &casting }},
		{entity.StageVFX, &vfx, func() { in.VFX = &vfx }},
		{entity.StagePlacement, &placement, func() { in.Placement = &placement }},
		{entity.StageLocations, &locations, func() { in.Locations = &locations }},
	}
	if withFinancial {
		targets = append(targets, resultTarget{entity.StageFinancial, &financial, func() { in.Financial = &financial }})
	}

	for _, t := range targets {
		ok, err := rc.LoadResult(ctx, t.stage, t.value)
		if err != nil {
			return in, err
		}
		if ok {
			t.set()
		}
	}
	return in, nil
}
