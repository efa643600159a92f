// Package analysis 实现各分析阶段：构建 prompt、调用带降级链的生成器、提取并校验结构化结果。
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"film-ai-api/internal/config"
	llmctx "film-ai-api/internal/domain/service"
	workflowchain "film-ai-api/internal/workflow/chain"
	wfmodel "film-ai-api/internal/workflow/model"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/resilience"
)

const (
	defaultScriptCharBudget = 60000
	defaultSummaryMinLength = 200
	defaultPlacementTopN    = 10
	defaultVFXBatchSize     = 25
	castingBatchSize        = 3
)

// Analyzer 聚合所有分析阶段函数
type Analyzer struct {
	chain    *workflowchain.StageChain
	invoker  workflowport.Invoker
	validate *validator.Validate

	cfg          config.PipelineConfig
	documentProv string

	// sleep 批次间等待，测试中替换
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAnalyzer 创建分析器
func NewAnalyzer(cfg *config.Config, generator workflowport.ContentGenerator, invoker workflowport.Invoker) *Analyzer {
	pc := cfg.Pipeline
	if pc.ScriptCharBudget <= 0 {
		pc.ScriptCharBudget = defaultScriptCharBudget
	}
	if pc.SummaryMinLength <= 0 {
		pc.SummaryMinLength = defaultSummaryMinLength
	}
	if pc.PlacementTopN <= 0 {
		pc.PlacementTopN = defaultPlacementTopN
	}
	if pc.VFXBatchSize <= 0 {
		pc.VFXBatchSize = defaultVFXBatchSize
	}
	if pc.MaxAttempts <= 0 {
		pc.MaxAttempts = 3
	}

	return &Analyzer{
		chain:        workflowchain.NewStageChain(generator, workflowprompt.NewRegistry()),
		invoker:      invoker,
		validate:     validator.New(),
		cfg:          pc,
		documentProv: cfg.LLM.DocumentProvider,
		sleep:        resilience.Sleep,
	}
}

// run 以阶段名标记上下文后执行 prompt
func (a *Analyzer) run(ctx context.Context, stage string, in *wfmodel.StageInput) (string, error) {
	ctx = llmctx.WithStage(ctx, stage)
	return a.chain.Invoke(ctx, in)
}

// retryPolicy 批次级重试：上下文取消与凭据缺失不重试
func (a *Analyzer) retryPolicy(ctx context.Context, stage string) resilience.Policy {
	return resilience.Policy{
		MaxAttempts: a.cfg.MaxAttempts,
		BaseDelay:   a.cfg.BaseDelay,
		Retryable: func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return !errors.Is(err, apperrors.ErrMissingCredential)
		},
		OnRetry: func(attempt int, err error, next time.Duration) {
			logger.Warn(ctx, "stage batch failed, retrying",
				"stage", stage,
				"attempt", attempt,
				"next_delay", next.String(),
				"error", err.Error(),
			)
		},
	}
}

// pause 批次间的固定间隔
func (a *Analyzer) pause(ctx context.Context) error {
	return a.sleep(ctx, a.cfg.ItemDelay)
}

// check 使用 validator 校验单个提取结果，失败时返回合并后的字段问题
func (a *Analyzer) check(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	issues := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return apperrors.ErrValidationFailed.WithDetail(strings.Join(issues, "; "))
}
