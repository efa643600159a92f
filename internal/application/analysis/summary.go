package analysis

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"film-ai-api/internal/domain/entity"
	wfmodel "film-ai-api/internal/workflow/model"
	wfnode "film-ai-api/internal/workflow/node"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	"film-ai-api/pkg/logger"
)

// SummaryInput 汇总阶段可用的前序产出，缺失的阶段为 nil
type SummaryInput struct {
	Scenes     []*entity.Scene
	Characters *entity.CharacterAnalysis
	Casting    *entity.CastingResult
	VFX        *entity.VFXResult
	Placement  *entity.PlacementResult
	Locations  *entity.LocationResult
	Financial  *entity.FinancialPlan
}

// Summarize 汇总全部产出为叙述性报告。
// 生成失败或文本短于最小长度时返回 nil 而不是错误，由编排层标记阶段失败。
func (a *Analyzer) Summarize(ctx context.Context, project *entity.Project, in SummaryInput) *entity.Summary {
	text, err := a.run(ctx, string(entity.StageSummary), &wfmodel.StageInput{
		Prompt: workflowprompt.PromptSummaryV1,
		Vars: map[string]any{
			"title":    project.Title,
			"logline":  project.Logline,
			"analysis": wfnode.TruncateByRunes(BuildAnalysisDigest(in), a.cfg.ScriptCharBudget),
		},
		ResponseFormat: workflowport.ResponseFormatText,
	})
	if err != nil {
		logger.Warn(ctx, "summary generation failed", "error", err.Error())
		return nil
	}

	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < a.cfg.SummaryMinLength {
		logger.Warn(ctx, "summary shorter than minimum length",
			"length", n,
			"min_length", a.cfg.SummaryMinLength,
		)
		return nil
	}
	return &entity.Summary{Text: text}
}

// BuildAnalysisDigest 把前序产出压缩成 prompt 可用的要点
func BuildAnalysisDigest(in SummaryInput) string {
	var b strings.Builder

	if len(in.Scenes) > 0 {
		var minutes float64
		for _, s := range in.Scenes {
			minutes += s.Duration
		}
		fmt.Fprintf(&b, "Scenes: %d, estimated runtime %.0f minutes\n", len(in.Scenes), minutes)
	}
	if in.Characters != nil {
		b.WriteString("Characters:\n")
		b.WriteString(wfnode.BuildCharactersBlock(in.Characters.Characters))
		b.WriteString("\n")
	}
	if in.Casting != nil {
		b.WriteString("Casting:\n")
		for _, s := range in.Casting.Suggestions {
			if s.Missing || len(s.Primary) == 0 {
				fmt.Fprintf(&b, "- %s: no suggestion\n", s.CharacterName)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", s.CharacterName, s.Primary[0].Name)
		}
	}
	if in.VFX != nil {
		heavy := 0
		for _, v := range in.VFX.Scenes {
			if v.IsVFX {
				heavy++
			}
		}
		fmt.Fprintf(&b, "VFX: %d of %d analyzed scenes need effects\n", heavy, len(in.VFX.Scenes))
	}
	if in.Placement != nil && len(in.Placement.Opportunities) > 0 {
		top := in.Placement.Opportunities[0]
		fmt.Fprintf(&b, "Product placement: %d ranked opportunities, best is scene %d (score %d)\n",
			len(in.Placement.Opportunities), top.SceneNumber, top.Score)
	}
	if in.Locations != nil {
		fmt.Fprintf(&b, "Locations: %d location types\n", len(in.Locations.Groups))
	}
	if in.Financial != nil {
		fmt.Fprintf(&b, "Budget: $%.2f total, contingency $%.2f\n", in.Financial.GrandTotal, in.Financial.Contingency)
		if in.Financial.Narrative != "" {
			b.WriteString(in.Financial.Narrative)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}
