package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/domain/repository"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/metrics"
	"film-ai-api/pkg/tracer"
)

const defaultStageTimeout = 10 * time.Minute

// RunLock 项目级运行锁，保证同一项目同时只有一次运行
type RunLock interface {
	Acquire(ctx context.Context, projectID, runID string) (bool, error)
	Release(ctx context.Context, projectID, runID string) error
	RequestCancel(ctx context.Context, projectID string) error
	CancelRequested(ctx context.Context, projectID string) (bool, error)
}

// Dispatcher 把运行任务投递给 worker
type Dispatcher interface {
	DispatchPipeline(ctx context.Context, job *entity.PipelineJob) error
}

// LeadSubmitter 运行结束后向 CRM 提交线索
type LeadSubmitter interface {
	SubmitLead(ctx context.Context, lead *entity.Lead) (*entity.LeadResult, error)
}

// Orchestrator 分析流水线编排器
type Orchestrator struct {
	stages     StageSet
	projects   repository.ProjectRepository
	scenes     repository.SceneRepository
	characters repository.CharacterRepository
	records    repository.StageRepository
	progress   repository.ProgressRepository
	results    repository.StageResultRepository
	tx         repository.Transactor
	lock       RunLock
	dispatcher Dispatcher
	crm        LeadSubmitter

	stageTimeout time.Duration
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	cfg *config.Config,
	stages StageSet,
	projects repository.ProjectRepository,
	scenes repository.SceneRepository,
	characters repository.CharacterRepository,
	records repository.StageRepository,
	progress repository.ProgressRepository,
	results repository.StageResultRepository,
	tx repository.Transactor,
	lock RunLock,
	dispatcher Dispatcher,
	crm LeadSubmitter,
) *Orchestrator {
	timeout := cfg.Pipeline.StageTimeout
	if timeout <= 0 {
		timeout = defaultStageTimeout
	}
	return &Orchestrator{
		stages:       stages,
		projects:     projects,
		scenes:       scenes,
		characters:   characters,
		records:      records,
		progress:     progress,
		results:      results,
		tx:           tx,
		lock:         lock,
		dispatcher:   dispatcher,
		crm:          crm,
		stageTimeout: timeout,
	}
}

// ProgressView 进度查询结果
type ProgressView struct {
	Progress *entity.ProjectProgress `json:"progress"`
	Stages   []*entity.AnalysisStage `json:"stages"`
}

// Start 校验请求、占用运行锁、重置阶段记录并投递任务。
// names 为空时运行全部阶段；返回的 job 携带本次运行 ID。
func (o *Orchestrator) Start(ctx context.Context, projectID string, names []string) (*entity.PipelineJob, error) {
	requested, err := o.resolve(names)
	if err != nil {
		return nil, err
	}

	project, err := o.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperrors.ErrProjectNotFound
	}

	existing, err := o.records.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byName := make(map[entity.StageName]*entity.AnalysisStage, len(existing))
	for _, rec := range existing {
		if rec.Status == entity.StageStatusProcessing {
			return nil, apperrors.ErrPipelineRunning.WithDetail(fmt.Sprintf("stage %s is processing", rec.Stage))
		}
		byName[rec.Stage] = rec
	}

	runID := uuid.NewString()
	ok, err := o.lock.Acquire(ctx, projectID, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrPipelineRunning
	}

	job := &entity.PipelineJob{
		RunID:       runID,
		ProjectID:   projectID,
		Stages:      requested,
		RequestedAt: time.Now(),
	}

	recs := make([]*entity.AnalysisStage, 0, len(requested))
	progress := &entity.ProjectProgress{ProjectID: projectID, RunID: runID}
	err = o.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, name := range requested {
			rec, ok := byName[name]
			if ok {
				rec.Reset(runID)
			} else {
				rec = entity.NewAnalysisStage(projectID, name, runID)
			}
			if err := o.records.Save(txCtx, rec); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		progress.Recompute(recs)
		return o.progress.Save(txCtx, progress)
	})
	if err != nil {
		o.releaseLock(ctx, projectID, runID)
		return nil, err
	}

	if err := o.dispatcher.DispatchPipeline(ctx, job); err != nil {
		logger.Error(ctx, "failed to dispatch pipeline run", err, "project_id", projectID, "run_id", runID)
		for _, rec := range recs {
			_ = rec.Fail(entity.FailureReasonStage, "dispatch failed: "+err.Error())
			_ = o.records.Save(ctx, rec)
		}
		progress.Recompute(recs)
		_ = o.progress.Save(ctx, progress)
		o.releaseLock(ctx, projectID, runID)
		return nil, err
	}

	logger.Info(ctx, "pipeline run dispatched",
		"project_id", projectID,
		"run_id", runID,
		"stages", len(requested),
	)
	return job, nil
}

// resolve 校验阶段名并按注册顺序去重
func (o *Orchestrator) resolve(names []string) ([]entity.StageName, error) {
	if len(names) == 0 {
		out := make([]entity.StageName, 0, len(o.stages))
		for _, s := range o.stages {
			out = append(out, s.Name())
		}
		return out, nil
	}

	want := make(map[entity.StageName]struct{}, len(names))
	for _, n := range names {
		name := entity.StageName(n)
		if _, ok := o.stages.Lookup(name); !ok {
			return nil, apperrors.ErrUnknownStage.WithDetail(n)
		}
		want[name] = struct{}{}
	}
	out := make([]entity.StageName, 0, len(want))
	for _, s := range o.stages {
		if _, ok := want[s.Name()]; ok {
			out = append(out, s.Name())
		}
	}
	return out, nil
}

// runState 单次运行的阶段记录，mu 保护记录状态与进度重算
type runState struct {
	mu       sync.Mutex
	job      *entity.PipelineJob
	records  map[entity.StageName]*entity.AnalysisStage
	ordered  []*entity.AnalysisStage
	progress *entity.ProjectProgress
}

func (rs *runState) status(name entity.StageName) (entity.StageStatus, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rec, ok := rs.records[name]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

func (rs *runState) finished() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, rec := range rs.ordered {
		if !rec.Status.Terminal() {
			return false
		}
	}
	return true
}

// Execute 在 worker 中执行一次运行。
// 阶段失败不会中断运行：下游硬依赖以 DependencyFailure 失败，其余阶段照常执行。
func (o *Orchestrator) Execute(ctx context.Context, job *entity.PipelineJob) error {
	ctx, span := tracer.Start(ctx, "pipeline.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", job.ProjectID),
		attribute.String("run_id", job.RunID),
	)

	metrics.ActivePipelines.Inc()
	defer metrics.ActivePipelines.Dec()
	// 释放锁与收尾持久化不受运行取消影响
	defer o.releaseLock(context.WithoutCancel(ctx), job.ProjectID, job.RunID)

	project, err := o.projects.GetByID(ctx, job.ProjectID)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	if project == nil {
		return apperrors.ErrProjectNotFound
	}

	rs, err := o.loadRun(ctx, job)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	if rs == nil {
		logger.Warn(ctx, "pipeline run superseded, skipping", "project_id", job.ProjectID, "run_id", job.RunID)
		return nil
	}
	if rs.finished() {
		logger.Info(ctx, "pipeline run already finished, skipping", "project_id", job.ProjectID, "run_id", job.RunID)
		return nil
	}

	stages := make([]Stage, 0, len(job.Stages))
	for _, name := range job.Stages {
		st, ok := o.stages.Lookup(name)
		if !ok {
			return apperrors.ErrUnknownStage.WithDetail(string(name))
		}
		stages = append(stages, st)
	}
	waves, err := planWaves(stages)
	if err != nil {
		return err
	}

	rc := &RunContext{
		Project:    project,
		RunID:      job.RunID,
		scenes:     o.scenes,
		characters: o.characters,
		results:    o.results,
	}

	logger.Info(ctx, "pipeline run started",
		"project_id", job.ProjectID,
		"run_id", job.RunID,
		"stages", len(stages),
		"waves", len(waves),
	)

	for i, wave := range waves {
		if reason, stop := o.shouldStop(ctx, job.ProjectID); stop {
			o.failRemaining(ctx, rs, waves[i:], reason)
			break
		}

		var g errgroup.Group
		for _, st := range wave {
			g.Go(func() error {
				o.runStage(ctx, rs, rc, st)
				return nil
			})
		}
		_ = g.Wait()
	}

	o.persistProgress(context.WithoutCancel(ctx), rs)
	logger.Info(ctx, "pipeline run finished",
		"project_id", job.ProjectID,
		"run_id", job.RunID,
		"completed", rs.progress.CompletedStages,
		"failed", rs.progress.FailedStages,
	)

	o.notifyCRM(context.WithoutCancel(ctx), project)
	return nil
}

// loadRun 读取本次运行的阶段记录；记录已属于更新的运行时返回 nil
func (o *Orchestrator) loadRun(ctx context.Context, job *entity.PipelineJob) (*runState, error) {
	rs := &runState{
		job:      job,
		records:  make(map[entity.StageName]*entity.AnalysisStage, len(job.Stages)),
		progress: &entity.ProjectProgress{ProjectID: job.ProjectID, RunID: job.RunID},
	}
	for _, name := range job.Stages {
		rec, err := o.records.Get(ctx, job.ProjectID, name)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			rec = entity.NewAnalysisStage(job.ProjectID, name, job.RunID)
		}
		if rec.RunID != job.RunID {
			return nil, nil
		}
		// 重投递的消息：上次中断时仍在 processing 的阶段重新执行
		if rec.Status == entity.StageStatusProcessing {
			rec.Reset(job.RunID)
		}
		rs.records[name] = rec
		rs.ordered = append(rs.ordered, rec)
	}
	return rs, nil
}

// shouldStop 阶段之间检查取消：上下文取消或收到取消请求
func (o *Orchestrator) shouldStop(ctx context.Context, projectID string) (string, bool) {
	if err := ctx.Err(); err != nil {
		return err.Error(), true
	}
	requested, err := o.lock.CancelRequested(ctx, projectID)
	if err != nil {
		logger.Warn(ctx, "failed to check cancel flag", "project_id", projectID, "error", err.Error())
		return "", false
	}
	if requested {
		return "cancelled by request", true
	}
	return "", false
}

// failRemaining 取消后把未执行的阶段标记为 Cancelled
func (o *Orchestrator) failRemaining(ctx context.Context, rs *runState, waves [][]Stage, reason string) {
	ctx = context.WithoutCancel(ctx)
	logger.Warn(ctx, "pipeline run cancelled", "project_id", rs.job.ProjectID, "run_id", rs.job.RunID, "reason", reason)
	for _, wave := range waves {
		for _, st := range wave {
			o.transition(ctx, rs, st.Name(), func(rec *entity.AnalysisStage) error {
				if rec.Status.Terminal() {
					return nil
				}
				return rec.Fail(entity.FailureReasonCancelled, reason)
			})
			metrics.PipelineStageTotal.WithLabelValues(string(st.Name()), "cancelled").Inc()
		}
	}
}

// runStage 执行单个阶段并持久化其状态
func (o *Orchestrator) runStage(ctx context.Context, rs *runState, rc *RunContext, st Stage) {
	name := st.Name()
	persistCtx := context.WithoutCancel(ctx)

	if status, _ := rs.status(name); status.Terminal() {
		return
	}

	if dep, ok := o.unmetDependency(ctx, rs, st); !ok {
		msg := fmt.Sprintf("dependency %s did not complete", dep)
		logger.Warn(ctx, "stage skipped, dependency not satisfied",
			"project_id", rs.job.ProjectID,
			"stage", string(name),
			"dependency", string(dep),
		)
		o.transition(persistCtx, rs, name, func(rec *entity.AnalysisStage) error {
			return rec.Fail(entity.FailureReasonDependency, msg)
		})
		metrics.PipelineStageTotal.WithLabelValues(string(name), "skipped").Inc()
		return
	}

	o.transition(persistCtx, rs, name, func(rec *entity.AnalysisStage) error {
		return rec.Start()
	})

	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()
	stageCtx, span := tracer.Start(stageCtx, "pipeline.stage."+string(name))
	defer span.End()

	start := time.Now()
	summary, err := st.Run(stageCtx, rc)
	metrics.PipelineStageDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())

	if err != nil {
		tracer.RecordError(span, err)
		reason := classify(err)
		logger.Error(ctx, "stage failed", err,
			"project_id", rs.job.ProjectID,
			"stage", string(name),
			"reason", string(reason),
		)
		o.transition(persistCtx, rs, name, func(rec *entity.AnalysisStage) error {
			return rec.Fail(reason, err.Error())
		})
		metrics.PipelineStageTotal.WithLabelValues(string(name), "failed").Inc()
		return
	}

	o.transition(persistCtx, rs, name, func(rec *entity.AnalysisStage) error {
		return rec.Complete(summary)
	})
	metrics.PipelineStageTotal.WithLabelValues(string(name), "completed").Inc()
	logger.Info(ctx, "stage completed",
		"project_id", rs.job.ProjectID,
		"stage", string(name),
		"summary", summary,
		"duration", time.Since(start).String(),
	)
}

// unmetDependency 返回第一个未完成的硬依赖。
// 依赖在本次运行中时看本次记录，否则看此前运行留下的记录。
func (o *Orchestrator) unmetDependency(ctx context.Context, rs *runState, st Stage) (entity.StageName, bool) {
	for _, dep := range st.Dependencies() {
		if status, inRun := rs.status(dep); inRun {
			if status != entity.StageStatusCompleted {
				return dep, false
			}
			continue
		}
		rec, err := o.records.Get(ctx, rs.job.ProjectID, dep)
		if err != nil || rec == nil || rec.Status != entity.StageStatusCompleted {
			return dep, false
		}
	}
	return "", true
}

// transition 在锁内修改阶段记录并持久化，随后重算进度
func (o *Orchestrator) transition(ctx context.Context, rs *runState, name entity.StageName, fn func(rec *entity.AnalysisStage) error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rec := rs.records[name]
	if err := fn(rec); err != nil {
		logger.Error(ctx, "invalid stage transition", err, "project_id", rs.job.ProjectID, "stage", string(name))
		return
	}
	if err := o.records.Save(ctx, rec); err != nil {
		logger.Error(ctx, "failed to save stage record", err, "project_id", rs.job.ProjectID, "stage", string(name))
	}
	rs.progress.Recompute(rs.ordered)
	if err := o.progress.Save(ctx, rs.progress); err != nil {
		logger.Error(ctx, "failed to save progress", err, "project_id", rs.job.ProjectID)
	}
}

func (o *Orchestrator) persistProgress(ctx context.Context, rs *runState) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.progress.Recompute(rs.ordered)
	if err := o.progress.Save(ctx, rs.progress); err != nil {
		logger.Error(ctx, "failed to save progress", err, "project_id", rs.job.ProjectID)
	}
}

// classify 把阶段错误映射为失败原因
func classify(err error) entity.FailureReason {
	switch {
	case errors.Is(err, context.Canceled):
		return entity.FailureReasonCancelled
	case errors.Is(err, apperrors.ErrDependencyFailure):
		return entity.FailureReasonDependency
	case errors.Is(err, apperrors.ErrExtractionFailure):
		return entity.FailureReasonExtraction
	case errors.Is(err, apperrors.ErrAllProvidersFailed):
		return entity.FailureReasonProviders
	default:
		return entity.FailureReasonStage
	}
}

func (o *Orchestrator) releaseLock(ctx context.Context, projectID, runID string) {
	if err := o.lock.Release(ctx, projectID, runID); err != nil {
		logger.Warn(ctx, "failed to release run lock", "project_id", projectID, "run_id", runID, "error", err.Error())
	}
}

// notifyCRM 项目带有所有者联系方式时提交线索，失败只记录日志
func (o *Orchestrator) notifyCRM(ctx context.Context, project *entity.Project) {
	if o.crm == nil || project.Owner == nil || project.Owner.Email == "" {
		return
	}
	res, err := o.crm.SubmitLead(ctx, &entity.Lead{
		ProjectID:    project.ID,
		ProjectTitle: project.Title,
		Contact:      *project.Owner,
		Source:       "analysis_pipeline",
	})
	if err != nil {
		logger.Warn(ctx, "crm lead submission failed", "project_id", project.ID, "error", err.Error())
		return
	}
	logger.Info(ctx, "crm lead submitted",
		"project_id", project.ID,
		"contact_id", res.ContactID,
		"deal_id", res.DealID,
	)
}

// Progress 返回项目进度与阶段记录
func (o *Orchestrator) Progress(ctx context.Context, projectID string) (*ProgressView, error) {
	project, err := o.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperrors.ErrProjectNotFound
	}

	progress, err := o.progress.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = &entity.ProjectProgress{ProjectID: projectID, Done: true}
	}

	recs, err := o.records.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	view := &ProgressView{Progress: progress}
	for _, rec := range recs {
		if rec.RunID == progress.RunID {
			view.Stages = append(view.Stages, rec)
		}
	}
	return view, nil
}

// Cancel 请求取消项目当前运行，在下一个阶段边界生效
func (o *Orchestrator) Cancel(ctx context.Context, projectID string) error {
	view, err := o.Progress(ctx, projectID)
	if err != nil {
		return err
	}
	if view.Progress.Done {
		return apperrors.ErrConflict.WithDetail("no active run for project")
	}
	return o.lock.RequestCancel(ctx, projectID)
}
