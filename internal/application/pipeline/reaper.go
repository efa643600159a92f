package pipeline

import (
	"context"
	"fmt"
	"time"

	"film-ai-api/internal/domain/entity"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/metrics"
)

// ReapStale 把长时间停留在 processing 的阶段标记为 StaleRun 并释放项目锁。
// worker 崩溃或被强制重启后，由定时任务调用。
func (o *Orchestrator) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := o.records.ListStale(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	touched := make(map[string]string)
	reaped := 0
	for _, rec := range stale {
		if err := rec.Fail(entity.FailureReasonStale, fmt.Sprintf("no progress for more than %s", olderThan)); err != nil {
			continue
		}
		if err := o.records.Save(ctx, rec); err != nil {
			logger.Error(ctx, "failed to save reaped stage", err, "project_id", rec.ProjectID, "stage", string(rec.Stage))
			continue
		}
		metrics.PipelineStageTotal.WithLabelValues(string(rec.Stage), "stale").Inc()
		touched[rec.ProjectID] = rec.RunID
		reaped++
	}

	for projectID, runID := range touched {
		if err := o.recomputeProgress(ctx, projectID, runID); err != nil {
			logger.Error(ctx, "failed to recompute progress after reaping", err, "project_id", projectID)
		}
		o.releaseLock(ctx, projectID, runID)
	}

	if reaped > 0 {
		logger.Warn(ctx, "reaped stale pipeline stages", "count", reaped, "projects", len(touched))
	}
	return reaped, nil
}

// recomputeProgress 按指定运行的阶段记录重算并保存进度；仍处于 pending 的同批阶段一并标记失败
func (o *Orchestrator) recomputeProgress(ctx context.Context, projectID, runID string) error {
	recs, err := o.records.ListByProject(ctx, projectID)
	if err != nil {
		return err
	}
	run := make([]*entity.AnalysisStage, 0, len(recs))
	for _, rec := range recs {
		if rec.RunID != runID {
			continue
		}
		if rec.Status == entity.StageStatusPending {
			_ = rec.Fail(entity.FailureReasonStale, "run abandoned")
			if err := o.records.Save(ctx, rec); err != nil {
				return err
			}
		}
		run = append(run, rec)
	}
	progress := &entity.ProjectProgress{ProjectID: projectID, RunID: runID}
	progress.Recompute(run)
	return o.progress.Save(ctx, progress)
}
