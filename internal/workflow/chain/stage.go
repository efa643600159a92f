package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	llmctx "film-ai-api/internal/domain/service"
	wfmodel "film-ai-api/internal/workflow/model"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	"film-ai-api/pkg/logger"
)

// StageChain 模板渲染 -> 带降级链的生成 -> 输出原始文本
type StageChain struct {
	generator workflowport.ContentGenerator
	prompts   *workflowprompt.Registry

	chainOnce sync.Once
	chain     compose.Runnable[*wfmodel.StageInput, string]
	chainErr  error
}

func NewStageChain(generator workflowport.ContentGenerator, prompts *workflowprompt.Registry) *StageChain {
	if prompts == nil {
		prompts = workflowprompt.NewRegistry()
	}
	return &StageChain{generator: generator, prompts: prompts}
}

// Invoke 执行一次阶段 prompt，返回模型原始文本
func (c *StageChain) Invoke(ctx context.Context, in *wfmodel.StageInput) (string, error) {
	if c == nil || c.generator == nil {
		return "", fmt.Errorf("content generator not configured")
	}
	if in == nil {
		return "", fmt.Errorf("input is nil")
	}

	chain, err := c.getChain()
	if err != nil {
		return "", err
	}
	return chain.Invoke(ctx, in)
}

// Render 仅渲染模板，供文档分析等不走降级链的调用使用
func (c *StageChain) Render(ctx context.Context, id workflowprompt.PromptID, vars map[string]any) (*wfmodel.RenderedPrompt, error) {
	msgs, err := c.formatMessages(ctx, id, vars)
	if err != nil {
		return nil, err
	}
	return splitMessages(msgs), nil
}

type stageChainState struct {
	In       *wfmodel.StageInput
	Messages []*schema.Message
	Out      string
}

func (c *StageChain) getChain() (compose.Runnable[*wfmodel.StageInput, string], error) {
	c.chainOnce.Do(func() {
		c.chain, c.chainErr = c.buildChain(context.Background())
	})
	return c.chain, c.chainErr
}

func (c *StageChain) buildChain(ctx context.Context) (compose.Runnable[*wfmodel.StageInput, string], error) {
	chain := compose.NewChain[*wfmodel.StageInput, string]()

	chain.AppendLambda(
		compose.InvokableLambda(func(_ context.Context, in *wfmodel.StageInput) (*stageChainState, error) {
			if in == nil {
				return nil, fmt.Errorf("input is nil")
			}
			return &stageChainState{In: in}, nil
		}),
		compose.WithNodeName("stage.init"),
	)

	chain.AppendLambda(
		compose.InvokableLambda(func(ctx context.Context, st *stageChainState) (*stageChainState, error) {
			if st == nil || st.In == nil {
				return nil, fmt.Errorf("state is nil")
			}
			msgs, err := c.formatMessages(ctx, st.In.Prompt, st.In.Vars)
			if err != nil {
				return nil, err
			}
			st.Messages = msgs
			return st, nil
		}),
		compose.WithNodeName("stage.template"),
	)

	chain.AppendLambda(
		compose.InvokableLambda(func(ctx context.Context, st *stageChainState) (*stageChainState, error) {
			if st == nil || st.In == nil {
				return nil, fmt.Errorf("state is nil")
			}
			rendered := splitMessages(st.Messages)

			out, err := c.generator.Generate(ctx, workflowport.GenerateRequest{
				Primary:   strings.TrimSpace(st.In.Provider),
				Prompt:    rendered.User,
				Fallbacks: st.In.Fallbacks,
				Options: workflowport.GenerateOptions{
					System:         rendered.System,
					MaxTokens:      st.In.MaxTokens,
					Temperature:    st.In.Temperature,
					ResponseFormat: st.In.ResponseFormat,
				},
			})
			if err != nil {
				return nil, err
			}
			st.Out = out
			return st, nil
		}),
		compose.WithNodeName("stage.llm"),
	)

	chain.AppendLambda(
		compose.InvokableLambda(func(ctx context.Context, st *stageChainState) (string, error) {
			if st == nil {
				return "", fmt.Errorf("state is nil")
			}
			logger.Debug(ctx, "stage prompt completed",
				"stage", llmctx.StageFromContext(ctx),
				"prompt", string(st.In.Prompt),
				"output_len", len(st.Out),
			)
			return st.Out, nil
		}),
		compose.WithNodeName("stage.finalize"),
	)

	return chain.Compile(ctx)
}

func (c *StageChain) formatMessages(ctx context.Context, id workflowprompt.PromptID, vars map[string]any) ([]*schema.Message, error) {
	tpl, err := c.prompts.ChatTemplate(id)
	if err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return tpl.Format(ctx, vars)
}

func splitMessages(msgs []*schema.Message) *wfmodel.RenderedPrompt {
	out := &wfmodel.RenderedPrompt{}
	var user []string
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.System:
			out.System = strings.TrimSpace(m.Content)
		default:
			user = append(user, strings.TrimSpace(m.Content))
		}
	}
	out.User = strings.Join(user, "\n\n")
	return out
}
