package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	llmctx "film-ai-api/internal/domain/service"
	"film-ai-api/internal/workflow/port"
	apperrors "film-ai-api/pkg/errors"
)

// stageGenerator 按阶段返回预置回复，队列耗尽后重复最后一条
type stageGenerator struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	calls   map[string]int
	prompts map[string][]string
}

func newStageGenerator() *stageGenerator {
	return &stageGenerator{
		replies: map[string][]string{},
		errs:    map[string]error{},
		calls:   map[string]int{},
		prompts: map[string][]string{},
	}
}

func (g *stageGenerator) Generate(ctx context.Context, req port.GenerateRequest) (string, error) {
	stage := llmctx.StageFromContext(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.calls[stage]
	g.calls[stage]++
	g.prompts[stage] = append(g.prompts[stage], req.Prompt)
	if err, ok := g.errs[stage]; ok {
		return "", err
	}
	q := g.replies[stage]
	if len(q) == 0 {
		return "", fmt.Errorf("no reply scripted for stage %s", stage)
	}
	if n >= len(q) {
		n = len(q) - 1
	}
	return q[n], nil
}

type docInvoker struct {
	provider, mime, prompt string
}

func (d *docInvoker) InvokeText(context.Context, string, string, port.GenerateOptions) (string, error) {
	return "", errors.New("not used")
}

func (d *docInvoker) InvokeDocument(_ context.Context, providerID, _, mimeType, prompt string) (string, error) {
	d.provider, d.mime, d.prompt = providerID, mimeType, prompt
	return "FADE IN:", nil
}

func newTestAnalyzer(gen port.ContentGenerator, inv port.Invoker, mutate func(*config.Config)) *Analyzer {
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
		},
		LLM: config.LLMConfig{DocumentProvider: "gemini"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	a := NewAnalyzer(cfg, gen, inv)
	a.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return a
}

func testProject() *entity.Project {
	return &entity.Project{ID: "p1", Title: "Harbor Lights", Script: "INT. DOCK - NIGHT\nANN waits.", TotalBudget: 1_500_000}
}

func TestExtractScenesWrapsSingleObject(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["scenes"] = []string{`Sure: {"scene_number": 1, "location": "INT. DOCK", "characters": "ANN"}`}
	a := newTestAnalyzer(gen, nil, nil)

	scenes, err := a.ExtractScenes(context.Background(), testProject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scenes) != 1 || scenes[0].Location != "INT. DOCK" || len(scenes[0].Characters) != 1 {
		t.Fatalf("scenes = %+v", scenes)
	}
	if scenes[0].ProjectID != "p1" {
		t.Fatalf("project id not set")
	}
}

func TestExtractScenesRejectsInvalidAndKeepsOrder(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["scenes"] = []string{`[
		{"scene_number": 2, "location": "EXT. ROAD"},
		{"scene_number": 0, "location": "bad"},
		{"scene_number": 1, "location": ""},
		{"scene_number": 3, "location": "INT. CAR"},
		{"scene_number": 2, "location": "EXT. ROAD AGAIN"}
	]`}
	a := newTestAnalyzer(gen, nil, nil)

	scenes, err := a.ExtractScenes(context.Background(), testProject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scenes) != 2 || scenes[0].SceneNumber != 2 || scenes[1].SceneNumber != 3 {
		t.Fatalf("scenes = %+v", scenes)
	}
}

func TestAnalyzeCharactersDropsInvalidRelationships(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["characters"] = []string{`{"characters": {"name": "Ann", "importance": "Protagonist",
		"relationships": [{"character": "Bo", "relationship": "brother", "strength": 8}, {"character": "Cy", "strength": 42}]}}`}
	a := newTestAnalyzer(gen, nil, nil)

	out, err := a.AnalyzeCharacters(context.Background(), testProject(), []*entity.Scene{{SceneNumber: 1, Location: "DOCK"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Characters) != 1 {
		t.Fatalf("characters = %+v", out.Characters)
	}
	c := out.Characters[0]
	if c.Importance != entity.ImportanceLead {
		t.Errorf("importance = %s, want lead", c.Importance)
	}
	if len(c.Relationships) != 1 || c.Relationships[0].Character != "Bo" {
		t.Errorf("relationships = %+v", c.Relationships)
	}
}

func TestSuggestCastingFlagsMissingCharacters(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["casting"] = []string{`{"suggestions": [
		{"character_name": "B", "primary": [{"name": "Actor B", "fit": 7}]},
		{"character_name": "a", "primary": {"name": "Actor A", "fit": 9}}
	]}`}
	a := newTestAnalyzer(gen, nil, nil)

	chars := []*entity.Character{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	res, err := a.SuggestCasting(context.Background(), testProject(), chars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Suggestions) != 3 {
		t.Fatalf("suggestions = %+v", res.Suggestions)
	}
	for i, want := range []string{"A", "B", "C"} {
		if res.Suggestions[i].CharacterName != want {
			t.Fatalf("order changed: %+v", res.Suggestions)
		}
	}
	if res.Suggestions[0].Missing || res.Suggestions[0].Primary[0].Name != "Actor A" {
		t.Errorf("A = %+v", res.Suggestions[0])
	}
	if !res.Suggestions[2].Missing || res.Suggestions[2].Error == "" {
		t.Errorf("C must be flagged missing: %+v", res.Suggestions[2])
	}
	if len(res.Missing) != 1 || res.Missing[0] != "C" {
		t.Errorf("missing = %v", res.Missing)
	}
	if res.BudgetTier != entity.BudgetTierLow {
		t.Errorf("tier = %s", res.BudgetTier)
	}
}

func TestSuggestCastingRetriesAndBatches(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["casting"] = []string{
		"I cannot help with that.",
		`{"suggestions": [{"character_name": "A", "primary": [{"name": "X"}]}, {"character_name": "B", "primary": [{"name": "Y"}]}, {"character_name": "C", "primary": [{"name": "Z"}]}]}`,
		`{"suggestions": [{"character_name": "D", "primary": [{"name": "W"}]}]}`,
	}
	a := newTestAnalyzer(gen, nil, nil)

	chars := []*entity.Character{{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"}}
	res, err := a.SuggestCasting(context.Background(), testProject(), chars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls["casting"] != 3 {
		t.Fatalf("calls = %d, want 3 (retry + second batch)", gen.calls["casting"])
	}
	if len(res.Missing) != 0 {
		t.Fatalf("missing = %v", res.Missing)
	}
}

func TestSuggestCastingAllFailed(t *testing.T) {
	gen := newStageGenerator()
	gen.errs["casting"] = apperrors.ErrAllProvidersFailed
	a := newTestAnalyzer(gen, nil, nil)

	_, err := a.SuggestCasting(context.Background(), testProject(), []*entity.Character{{Name: "A"}})
	if !errors.Is(err, apperrors.ErrStageFailed) {
		t.Fatalf("err = %v, want StageFailed", err)
	}
}

func TestParseVFXLines(t *testing.T) {
	text := strings.Join([]string{
		"Here is the breakdown:",
		"1|true|Car explodes|Explosion, fire ,",
		"2|false||",
		"3|maybe|unclear|x",
		"4|true|too|many|columns",
		"x|true|bad number|y",
		"9|true|not in batch|y",
		"1|false|duplicate|",
		"",
	}, "\n")
	expected := map[int]bool{1: true, 2: true, 3: true, 4: true}

	rows, malformed := ParseVFXLines(text, expected)
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if !rows[0].IsVFX || strings.Join(rows[0].Keywords, ",") != "explosion,fire" {
		t.Errorf("row 1 = %+v", rows[0])
	}
	if rows[1].IsVFX || len(rows[1].Keywords) != 0 {
		t.Errorf("row 2 = %+v", rows[1])
	}
	if len(malformed) != 5 {
		t.Errorf("malformed = %v, want 5 lines", malformed)
	}
}

func TestAnalyzeVFXTagsScenesAndReportsGaps(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["vfx"] = []string{"1|true|Storm|rain,wind\n2|false||"}
	a := newTestAnalyzer(gen, nil, nil)

	scenes := []*entity.Scene{{SceneNumber: 1}, {SceneNumber: 2}, {SceneNumber: 3}}
	res, err := a.AnalyzeVFX(context.Background(), scenes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(scenes[0].VFXNeeds, ",") != "rain,wind" {
		t.Errorf("scene 1 tags = %v", scenes[0].VFXNeeds)
	}
	if len(res.Unanalyzed) != 1 || res.Unanalyzed[0] != 3 {
		t.Errorf("unanalyzed = %v", res.Unanalyzed)
	}
}

func TestAnalyzePlacementRanksAndTruncates(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["placement"] = []string{`{"opportunities": [
		{"scene_number": 1, "score": 40, "categories": ["Coffee"]},
		{"scene_number": 2, "score": 90, "categories": ["Cars"]},
		{"scene_number": 3, "score": 150},
		{"scene_number": 4, "score": 90, "categories": ["Phones"]},
		{"scene_number": 7, "score": 99}
	], "category_suggestions": ["Beverages"]}`}
	a := newTestAnalyzer(gen, nil, func(c *config.Config) { c.Pipeline.PlacementTopN = 2 })

	scenes := []*entity.Scene{{SceneNumber: 1}, {SceneNumber: 2}, {SceneNumber: 3}, {SceneNumber: 4}}
	res, err := a.AnalyzePlacement(context.Background(), testProject(), scenes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Opportunities) != 2 {
		t.Fatalf("opportunities = %+v", res.Opportunities)
	}
	if res.Opportunities[0].SceneNumber != 2 || res.Opportunities[1].SceneNumber != 4 {
		t.Errorf("order = %+v", res.Opportunities)
	}
	if strings.Join(scenes[1].ProductPlacementOpportunities, ",") != "cars" {
		t.Errorf("scene 2 tags = %v", scenes[1].ProductPlacementOpportunities)
	}
	if len(scenes[0].ProductPlacementOpportunities) != 0 {
		t.Errorf("truncated scene must not be tagged: %v", scenes[0].ProductPlacementOpportunities)
	}
}

func TestSuggestLocationsGroupsByType(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["locations"] = []string{`{"groups": [{"location_type": "dock", "candidates": [
		{"name": "Port B", "rank": 2}, {"name": "Port A", "rank": 1}, {"name": ""}
	]}]}`}
	a := newTestAnalyzer(gen, nil, nil)

	scenes := []*entity.Scene{
		{SceneNumber: 1, Location: "INT. DOCK - NIGHT"},
		{SceneNumber: 2, Location: "EXT. Dock"},
		{SceneNumber: 3, Location: "INT. CAR"},
	}
	res, err := a.SuggestLocations(context.Background(), testProject(), scenes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Groups) != 2 {
		t.Fatalf("groups = %+v", res.Groups)
	}
	dock := res.Groups[0]
	if dock.LocationType != "DOCK" || len(dock.SceneNumbers) != 2 {
		t.Errorf("dock group = %+v", dock)
	}
	if len(dock.Candidates) != 2 || dock.Candidates[0].Name != "Port A" {
		t.Errorf("candidates = %+v", dock.Candidates)
	}
	if len(res.Groups[1].Candidates) != 0 {
		t.Errorf("car group should have no candidates")
	}
}

func TestBuildAllocationIsExact(t *testing.T) {
	budgets := []float64{1, 1.37, 7.77, 999.99, 12345.67, 250_000, 1_000_000, 3_333_333.33, 987_654_321.12, 1_000_000_000}
	for _, total := range budgets {
		plan, err := BuildAllocation(total)
		if err != nil {
			t.Fatalf("BuildAllocation(%v): %v", total, err)
		}
		if err := CheckPlan(plan); err != nil {
			t.Fatalf("BuildAllocation(%v): %v", total, err)
		}

		var sections float64
		for _, s := range plan.Sections {
			sections += s.Total
		}
		sum := sections + plan.Contingency + plan.Bonding
		if math.Abs(sum-plan.GrandTotal) > 1e-6*math.Max(1, total) {
			t.Errorf("%v: sections+reserves = %v, grand = %v", total, sum, plan.GrandTotal)
		}
		if toCents(plan.GrandTotal) != toCents(total) {
			t.Errorf("%v: grand total %v does not match input", total, plan.GrandTotal)
		}
	}
}

func TestBuildAllocationRejectsNonPositive(t *testing.T) {
	for _, v := range []float64{0, -5, math.NaN()} {
		if _, err := BuildAllocation(v); !errors.Is(err, apperrors.ErrInvalidParam) {
			t.Errorf("BuildAllocation(%v) err = %v", v, err)
		}
	}
}

func TestBuildAllocationRejectsOversizedBudget(t *testing.T) {
	for _, v := range []float64{1e12 + 1, 9.3e16, math.MaxFloat64} {
		if _, err := BuildAllocation(v); !errors.Is(err, apperrors.ErrInvalidParam) {
			t.Errorf("BuildAllocation(%g) err = %v, want InvalidParam", v, err)
		}
	}

	plan, err := BuildAllocation(1e12)
	if err != nil {
		t.Fatalf("BuildAllocation(1e12): %v", err)
	}
	if err := CheckPlan(plan); err != nil {
		t.Fatalf("CheckPlan at the bound: %v", err)
	}
	if plan.GrandTotal != 1e12 {
		t.Fatalf("grand total = %v, want 1e12", plan.GrandTotal)
	}
}

func TestPlanFinancialsKeepsAllocationWhenNarrativeFails(t *testing.T) {
	gen := newStageGenerator()
	gen.errs["financial"] = apperrors.ErrAllProvidersFailed
	a := newTestAnalyzer(gen, nil, nil)

	plan, err := a.PlanFinancials(context.Background(), testProject(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Narrative != "" || plan.GrandTotal != 1_500_000 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestSummarizeFailsSoft(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["summary"] = []string{"Too short."}
	a := newTestAnalyzer(gen, nil, func(c *config.Config) { c.Pipeline.SummaryMinLength = 50 })

	if s := a.Summarize(context.Background(), testProject(), SummaryInput{}); s != nil {
		t.Fatalf("short summary should be nil, got %+v", s)
	}

	gen.replies["summary"] = []string{strings.Repeat("A strong character-driven thriller. ", 5)}
	gen.calls["summary"] = 0
	if s := a.Summarize(context.Background(), testProject(), SummaryInput{}); s == nil {
		t.Fatal("expected a summary")
	}

	gen.errs["summary"] = apperrors.ErrAllProvidersFailed
	if s := a.Summarize(context.Background(), testProject(), SummaryInput{}); s != nil {
		t.Fatal("generation error should yield nil")
	}
}

func TestAnalyzeActor(t *testing.T) {
	gen := newStageGenerator()
	gen.replies["actor_analysis"] = []string{`{"fit_score": 8, "verdict": "Strong fit."}`}
	a := newTestAnalyzer(gen, nil, nil)

	out, err := a.AnalyzeActor(context.Background(), ActorAnalysisRequest{CharacterName: "Ann", ActorName: "Jane Doe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.CharacterName != "Ann" || out.ActorName != "Jane Doe" || out.FitScore != 8 {
		t.Fatalf("out = %+v", out)
	}

	gen.replies["actor_analysis"] = []string{`{"fit_score": 11}`}
	gen.calls["actor_analysis"] = 0
	if _, err := a.AnalyzeActor(context.Background(), ActorAnalysisRequest{CharacterName: "Ann", ActorName: "X"}); !errors.Is(err, apperrors.ErrValidationFailed) {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
}

func TestAnalyzeDocument(t *testing.T) {
	inv := &docInvoker{}
	a := newTestAnalyzer(newStageGenerator(), inv, nil)

	if _, err := a.AnalyzeDocument(context.Background(), "aGVsbG8=", "image/png", ""); !errors.Is(err, apperrors.ErrInvalidParam) {
		t.Fatalf("err = %v, want InvalidParam", err)
	}
	if _, err := a.AnalyzeDocument(context.Background(), "%%%", "application/pdf", ""); !errors.Is(err, apperrors.ErrInvalidParam) {
		t.Fatalf("err = %v, want InvalidParam", err)
	}
	out, err := a.AnalyzeDocument(context.Background(), "aGVsbG8=", "Application/PDF", "Summarize it.")
	if err != nil || out != "FADE IN:" {
		t.Fatalf("out = %q, err = %v", out, err)
	}
	if inv.provider != "gemini" || inv.mime != "application/pdf" || !strings.HasSuffix(inv.prompt, "Summarize it.") {
		t.Fatalf("invoker got %+v", inv)
	}
}
