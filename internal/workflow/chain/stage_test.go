package chain

import (
	"context"
	"strings"
	"testing"

	wfmodel "film-ai-api/internal/workflow/model"
	"film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
)

type recordingGenerator struct {
	req port.GenerateRequest
}

func (g *recordingGenerator) Generate(_ context.Context, req port.GenerateRequest) (string, error) {
	g.req = req
	return "ok", nil
}

func TestStageChainRendersAndGenerates(t *testing.T) {
	gen := &recordingGenerator{}
	c := NewStageChain(gen, nil)

	out, err := c.Invoke(context.Background(), &wfmodel.StageInput{
		Prompt: workflowprompt.PromptScenesV1,
		Vars: map[string]any{
			"title":  "Harbor Lights",
			"genre":  "",
			"script": "INT. DOCK - NIGHT\nANN waits.",
		},
		Provider:       "gemini",
		Fallbacks:      []string{},
		ResponseFormat: port.ResponseFormatText,
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "ok" {
		t.Fatalf("out = %q", out)
	}
	if gen.req.Primary != "gemini" || gen.req.Fallbacks == nil {
		t.Fatalf("request routing not preserved: %+v", gen.req)
	}
	if !strings.Contains(gen.req.Prompt, "Harbor Lights") || !strings.Contains(gen.req.Prompt, "ANN waits.") {
		t.Fatalf("prompt missing vars: %q", gen.req.Prompt)
	}
	if strings.Contains(gen.req.Prompt, "Genre:") {
		t.Fatalf("empty genre should be omitted: %q", gen.req.Prompt)
	}
	if gen.req.Options.System == "" {
		t.Fatal("system message should be passed as option")
	}
}

func TestStageChainRender(t *testing.T) {
	c := NewStageChain(&recordingGenerator{}, nil)
	r, err := c.Render(context.Background(), workflowprompt.PromptDocumentV1, map[string]any{"instruction": "List the scenes."})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if r.User != "List the scenes." || r.System == "" {
		t.Fatalf("rendered = %+v", r)
	}
}
