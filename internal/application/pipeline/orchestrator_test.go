package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	apperrors "film-ai-api/pkg/errors"
)

const testProjectID = "11111111-1111-1111-1111-111111111111"

func fakeStage(name entity.StageName, deps, after []entity.StageName, run func(ctx context.Context, rc *RunContext) (string, error)) Stage {
	if run == nil {
		run = func(context.Context, *RunContext) (string, error) { return "ok", nil }
	}
	return &stageFunc{name: name, deps: deps, after: after, run: run}
}

func newTestOrchestrator(h *harness, stages StageSet) *Orchestrator {
	return NewOrchestrator(&config.Config{}, stages,
		h.projects, h.scenes, h.characters, h.stages, h.progress, h.results, h.tx,
		h.lock, h.dispatcher, h.crm)
}

func seedProject(t *testing.T, h *harness, owner *entity.OwnerContact) {
	t.Helper()
	err := h.projects.Upsert(context.Background(), &entity.Project{
		ID:          testProjectID,
		Title:       "Night Train",
		TotalBudget: 1_000_000,
		Owner:       owner,
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

func startAndExecute(t *testing.T, o *Orchestrator, h *harness, names []string) *entity.PipelineJob {
	t.Helper()
	ctx := context.Background()
	job, err := o.Start(ctx, testProjectID, names)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Execute(ctx, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return job
}

func stageRecord(t *testing.T, h *harness, name entity.StageName) *entity.AnalysisStage {
	t.Helper()
	rec, err := h.stages.Get(context.Background(), testProjectID, name)
	if err != nil || rec == nil {
		t.Fatalf("stage %s record missing: %v", name, err)
	}
	return rec
}

func TestExecute_PartialFailureSkipsDependents(t *testing.T) {
	h := newHarness()
	seedProject(t, h, nil)

	stages := StageSet{
		fakeStage(entity.StageScenes, nil, nil, nil),
		fakeStage(entity.StageCharacters, []entity.StageName{entity.StageScenes}, nil,
			func(context.Context, *RunContext) (string, error) {
				return "", apperrors.ErrExtractionFailure.WithDetail("garbage")
			}),
		fakeStage(entity.StageCasting, []entity.StageName{entity.StageCharacters}, nil,
			func(context.Context, *RunContext) (string, error) {
				t.Error("casting must not run when characters failed")
				return "", nil
			}),
		fakeStage(entity.StageVFX, []entity.StageName{entity.StageScenes}, []entity.StageName{entity.StageCharacters}, nil),
	}
	o := newTestOrchestrator(h, stages)
	startAndExecute(t, o, h, nil)

	if rec := stageRecord(t, h, entity.StageScenes); rec.Status != entity.StageStatusCompleted {
		t.Errorf("scenes status = %s, want completed", rec.Status)
	}
	chars := stageRecord(t, h, entity.StageCharacters)
	if chars.Status != entity.StageStatusFailed || chars.FailureReason != entity.FailureReasonExtraction {
		t.Errorf("characters = %s/%s, want failed/ExtractionFailure", chars.Status, chars.FailureReason)
	}
	casting := stageRecord(t, h, entity.StageCasting)
	if casting.Status != entity.StageStatusFailed || casting.FailureReason != entity.FailureReasonDependency {
		t.Errorf("casting = %s/%s, want failed/DependencyFailure", casting.Status, casting.FailureReason)
	}
	if slices.Contains(h.stages.statuses(entity.StageCasting), entity.StageStatusProcessing) {
		t.Error("casting passed through processing")
	}
	if rec := stageRecord(t, h, entity.StageVFX); rec.Status != entity.StageStatusCompleted {
		t.Errorf("vfx status = %s, want completed", rec.Status)
	}

	progress, _ := h.progress.Get(context.Background(), testProjectID)
	if progress.CompletedStages != 2 || progress.FailedStages != 2 || !progress.Done || progress.PercentComplete != 50 {
		t.Errorf("progress = %+v", progress)
	}
	if h.lock.held(testProjectID) {
		t.Error("run lock still held after execution")
	}
}

func TestExecute_FailureKeepsDetail(t *testing.T) {
	h := newHarness()
	seedProject(t, h, nil)

	stages := StageSet{
		fakeStage(entity.StageFinancial, nil, nil,
			func(context.Context, *RunContext) (string, error) {
				return "", apperrors.ErrStageFailed.WithDetail("summary unavailable or below minimum length")
			}),
	}
	o := newTestOrchestrator(h, stages)
	startAndExecute(t, o, h, nil)

	rec := stageRecord(t, h, entity.StageFinancial)
	if rec.Status != entity.StageStatusFailed || rec.FailureReason != entity.FailureReasonStage {
		t.Fatalf("financial = %s/%s, want failed/StageFailure", rec.Status, rec.FailureReason)
	}
	if !strings.Contains(rec.ErrorMessage, "summary unavailable or below minimum length") {
		t.Fatalf("error message %q lost the detail", rec.ErrorMessage)
	}
}

func TestExecute_DependencyOutsideRun(t *testing.T) {
	h := newHarness()
	seedProject(t, h, nil)

	ran := false
	stages := StageSet{
		fakeStage(entity.StageScenes, nil, nil, nil),
		fakeStage(entity.StageCharacters, []entity.StageName{entity.StageScenes}, nil,
			func(context.Context, *RunContext) (string, error) {
				ran = true
				return "characters=2", nil
			}),
	}
	o := newTestOrchestrator(h, stages)

	// scenes 从未完成
	startAndExecute(t, o, h, []string{"characters"})
	if ran {
		t.Fatal("characters ran without completed scenes")
	}
	if rec := stageRecord(t, h, entity.StageCharacters); rec.FailureReason != entity.FailureReasonDependency {
		t.Fatalf("characters reason = %s, want DependencyFailure", rec.FailureReason)
	}

	// scenes 在此前运行中完成后，单独重跑 characters 可以执行
	startAndExecute(t, o, h, []string{"scenes"})
	startAndExecute(t, o, h, []string{"characters"})
	if !ran {
		t.Fatal("characters did not run after scenes completed")
	}
	rec := stageRecord(t, h, entity.StageCharacters)
	if rec.Status != entity.StageStatusCompleted || rec.ResultSummary != "characters=2" {
		t.Errorf("characters = %s %q", rec.Status, rec.ResultSummary)
	}
	// 依赖失败不计入尝试次数
	if rec.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", rec.Attempts)
	}
}

func TestStart_Rejections(t *testing.T) {
	h := newHarness()
	seedProject(t, h, nil)
	o := newTestOrchestrator(h, StageSet{fakeStage(entity.StageScenes, nil, nil, nil)})
	ctx := context.Background()

	if _, err := o.Start(ctx, testProjectID, []string{"storyboard"}); !errors.Is(err, apperrors.ErrUnknownStage) {
		t.Errorf("unknown stage err = %v", err)
	}
	if _, err := o.Start(ctx, "missing", nil); !errors.Is(err, apperrors.ErrProjectNotFound) {
		t.Errorf("missing project err = %v", err)
	}

	if _, err := o.Start(ctx, testProjectID, nil); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := o.Start(ctx, testProjectID, nil); !errors.Is(err, apperrors.ErrPipelineRunning) {
		t.Errorf("second Start err = %v, want ErrPipelineRunning", err)
	}
	if len(h.dispatcher.jobs) != 1 {
		t.Errorf("dispatched %d jobs, want 1", len(h.dispatcher.jobs))
	}
}

func TestStart_DispatchFailureReleasesLock(t *testing.T) {
	h := newHarness()
	seedProject(t, h, nil)
	h.dispatcher.err = errors.New("stream unavailable")
	o := newTestOrchestrator(h, StageSet{fakeStage(entity.StageScenes, nil, nil, nil)})

	if _, err := o.Start(context.Background(), testProjectID, nil); err == nil {
		t.Fatal("expected dispatch error")
	}
	if h.lock.held(testProjectID) {
		t.Error("lock held after failed dispatch")
	}
	if rec := stageRecord(t, h, entity.StageScenes); rec.Status != entity.StageStatusFailed {
		t.Errorf("scenes status = %s, want failed", rec.Status)
	}
}

func TestExecute_CancelBetweenStages(t *testing.T) {
	h := newHarness()
	seedProject(t, h, nil)

	var o *Orchestrator
	stages := StageSet{
		fakeStage(entity.StageScenes, nil, nil, func(ctx context.Context, rc *RunContext) (string, error) {
			if err := o.Cancel(ctx, rc.Project.ID); err != nil {
				t.Errorf("Cancel: %v", err)
			}
			return "scenes=3", nil
		}),
		fakeStage(entity.StageCharacters, []entity.StageName{entity.StageScenes}, nil, nil),
		fakeStage(entity.StageSummary, []entity.StageName{entity.StageScenes}, []entity.StageName{entity.StageCharacters}, nil),
	}
	o = newTestOrchestrator(h, stages)
	startAndExecute(t, o, h, nil)

	if rec := stageRecord(t, h, entity.StageScenes); rec.Status != entity.StageStatusCompleted {
		t.Errorf("scenes status = %s, want completed", rec.Status)
	}
	for _, name := range []entity.StageName{entity.StageCharacters, entity.StageSummary} {
		rec := stageRecord(t, h, name)
		if rec.Status != entity.StageStatusFailed || rec.FailureReason != entity.FailureReasonCancelled {
			t.Errorf("%s = %s/%s, want failed/Cancelled", name, rec.Status, rec.FailureReason)
		}
	}
}

func TestExecute_SupersededRunIsSkipped(t *testing.T) {
	h := newHarness()
	seedProject(t, h, nil)
	calls := 0
	o := newTestOrchestrator(h, StageSet{
		fakeStage(entity.StageScenes, nil, nil, func(context.Context, *RunContext) (string, error) {
			calls++
			return "ok", nil
		}),
	})

	ctx := context.Background()
	stale, err := o.Start(ctx, testProjectID, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Execute(ctx, stale); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	fresh := startAndExecute(t, o, h, nil)

	// 旧消息重投递
	if err := o.Execute(ctx, stale); err != nil {
		t.Fatalf("redelivered Execute: %v", err)
	}
	if calls != 2 {
		t.Errorf("stage ran %d times, want 2", calls)
	}
	if rec := stageRecord(t, h, entity.StageScenes); rec.RunID != fresh.RunID {
		t.Errorf("run id = %s, want %s", rec.RunID, fresh.RunID)
	}
}

func TestExecute_NotifiesCRM(t *testing.T) {
	h := newHarness()
	seedProject(t, h, &entity.OwnerContact{Name: "Ana", Email: "ana@example.com"})
	o := newTestOrchestrator(h, StageSet{fakeStage(entity.StageScenes, nil, nil, nil)})
	startAndExecute(t, o, h, nil)

	if len(h.crm.leads) != 1 {
		t.Fatalf("leads = %d, want 1", len(h.crm.leads))
	}
	if lead := h.crm.leads[0]; lead.ProjectID != testProjectID || lead.Contact.Email != "ana@example.com" {
		t.Errorf("lead = %+v", lead)
	}
}

func TestProgress_OnlyCurrentRun(t *testing.T) {
	h := newHarness()
	seedProject(t, h, nil)
	o := newTestOrchestrator(h, StageSet{
		fakeStage(entity.StageScenes, nil, nil, nil),
		fakeStage(entity.StageCharacters, []entity.StageName{entity.StageScenes}, nil, nil),
	})
	startAndExecute(t, o, h, nil)
	startAndExecute(t, o, h, []string{"characters"})

	view, err := o.Progress(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if view.Progress.TotalStages != 1 || view.Progress.PercentComplete != 100 {
		t.Errorf("progress = %+v", view.Progress)
	}
	if len(view.Stages) != 1 || view.Stages[0].Stage != entity.StageCharacters {
		t.Errorf("stages = %+v", view.Stages)
	}
}

func TestReapStale(t *testing.T) {
	h := newHarness()
	seedProject(t, h, nil)
	o := newTestOrchestrator(h, StageSet{
		fakeStage(entity.StageScenes, nil, nil, nil),
		fakeStage(entity.StageCharacters, []entity.StageName{entity.StageScenes}, nil, nil),
	})
	ctx := context.Background()

	job, err := o.Start(ctx, testProjectID, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// 模拟 worker 在 scenes 执行中崩溃
	rec := stageRecord(t, h, entity.StageScenes)
	_ = rec.Start()
	old := time.Now().Add(-2 * time.Hour)
	rec.StartedAt = &old
	_ = h.stages.Save(ctx, rec)

	n, err := o.ReapStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if n != 1 {
		t.Errorf("reaped = %d, want 1", n)
	}
	if rec := stageRecord(t, h, entity.StageScenes); rec.FailureReason != entity.FailureReasonStale {
		t.Errorf("scenes reason = %s", rec.FailureReason)
	}
	if rec := stageRecord(t, h, entity.StageCharacters); rec.Status != entity.StageStatusFailed {
		t.Errorf("characters status = %s, want failed", rec.Status)
	}
	if h.lock.held(testProjectID) {
		t.Error("lock held after reaping")
	}
	progress, _ := h.progress.Get(ctx, testProjectID)
	if !progress.Done || progress.RunID != job.RunID {
		t.Errorf("progress = %+v", progress)
	}
}
