package analysis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"film-ai-api/internal/domain/entity"
	wfmodel "film-ai-api/internal/workflow/model"
	wfnode "film-ai-api/internal/workflow/node"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/resilience"
)

const vfxColumns = 4

// AnalyzeVFX 分批分析场景特效需求，使用逐行文本格式 sceneNumber|isVfx|description|keywords。
// 解析失败的行单独记录，不影响同批其它行；被判定需要特效的场景会写回 VFXNeeds 标签。
func (a *Analyzer) AnalyzeVFX(ctx context.Context, scenes []*entity.Scene) (*entity.VFXResult, error) {
	if len(scenes) == 0 {
		return nil, apperrors.ErrDependencyFailure.WithDetail("no scenes to analyze")
	}

	byNumber := make(map[int]*entity.Scene, len(scenes))
	for _, s := range scenes {
		byNumber[s.SceneNumber] = s
	}

	result := &entity.VFXResult{}
	failedBatches := 0
	batches := 0
	for start := 0; start < len(scenes); start += a.cfg.VFXBatchSize {
		if start > 0 {
			if err := a.pause(ctx); err != nil {
				return nil, err
			}
		}
		end := min(start+a.cfg.VFXBatchSize, len(scenes))
		batch := scenes[start:end]
		batches++

		expected := make(map[int]bool, len(batch))
		for _, s := range batch {
			expected[s.SceneNumber] = true
		}

		raw, err := resilience.Retry(ctx, a.retryPolicy(ctx, string(entity.StageVFX)),
			func(ctx context.Context, _ int) (string, error) {
				return a.run(ctx, string(entity.StageVFX), &wfmodel.StageInput{
					Prompt:         workflowprompt.PromptVFXV1,
					Vars:           map[string]any{"scenes": wfnode.BuildScenesBlock(batch, a.cfg.ScriptCharBudget)},
					ResponseFormat: workflowport.ResponseFormatText,
				})
			})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failedBatches++
			logger.Warn(ctx, "vfx batch failed", "scenes", len(batch), "error", err.Error())
			for _, s := range batch {
				result.Unanalyzed = append(result.Unanalyzed, s.SceneNumber)
			}
			continue
		}

		rows, malformed := ParseVFXLines(raw, expected)
		if len(malformed) > 0 {
			logger.Warn(ctx, "vfx response contained malformed lines", "count", len(malformed))
			result.Malformed = append(result.Malformed, malformed...)
		}

		got := make(map[int]struct{}, len(rows))
		for _, r := range rows {
			got[r.SceneNumber] = struct{}{}
			if r.IsVFX {
				byNumber[r.SceneNumber].VFXNeeds = pq.StringArray(r.Keywords)
			} else {
				byNumber[r.SceneNumber].VFXNeeds = nil
			}
			result.Scenes = append(result.Scenes, r)
		}
		for _, s := range batch {
			if _, ok := got[s.SceneNumber]; !ok {
				result.Unanalyzed = append(result.Unanalyzed, s.SceneNumber)
			}
		}
	}

	if failedBatches == batches {
		return nil, apperrors.ErrStageFailed.WithDetail("every vfx batch failed")
	}
	sort.SliceStable(result.Scenes, func(i, j int) bool {
		return result.Scenes[i].SceneNumber < result.Scenes[j].SceneNumber
	})
	sort.Ints(result.Unanalyzed)
	return result, nil
}

// ParseVFXLines 严格解析逐行响应。
// 不含分隔符的行视为说明文字忽略；含分隔符但列数、布尔值、场景号不合法或重复的行计入 malformed。
func ParseVFXLines(text string, expected map[int]bool) ([]entity.VFXAnalysis, []string) {
	var (
		rows      []entity.VFXAnalysis
		malformed []string
		seen      = make(map[int]struct{})
	)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "|") {
			continue
		}
		row, err := parseVFXLine(line)
		if err == nil && !expected[row.SceneNumber] {
			err = fmt.Errorf("unexpected scene %d", row.SceneNumber)
		}
		if err == nil {
			if _, dup := seen[row.SceneNumber]; dup {
				err = fmt.Errorf("duplicate scene %d", row.SceneNumber)
			}
		}
		if err != nil {
			malformed = append(malformed, line)
			continue
		}
		seen[row.SceneNumber] = struct{}{}
		rows = append(rows, row)
	}
	return rows, malformed
}

func parseVFXLine(line string) (entity.VFXAnalysis, error) {
	cols := strings.Split(line, "|")
	if len(cols) != vfxColumns {
		return entity.VFXAnalysis{}, fmt.Errorf("expected %d columns, got %d", vfxColumns, len(cols))
	}

	num, err := strconv.Atoi(strings.TrimSpace(cols[0]))
	if err != nil || num < 1 {
		return entity.VFXAnalysis{}, fmt.Errorf("invalid scene number %q", cols[0])
	}
	isVFX, err := parseFlag(cols[1])
	if err != nil {
		return entity.VFXAnalysis{}, err
	}

	row := entity.VFXAnalysis{
		SceneNumber: num,
		IsVFX:       isVFX,
		Description: strings.TrimSpace(cols[2]),
	}
	if isVFX {
		row.Keywords = cleanTags(strings.Split(cols[3], ","))
	}
	return row, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true, nil
	case "false", "no", "n", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid vfx flag %q", s)
	}
}
