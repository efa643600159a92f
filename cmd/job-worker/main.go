// Package main 异步任务执行器入口（job-worker）
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/infrastructure/messaging"
	einoobs "film-ai-api/internal/observability/eino"
	"film-ai-api/internal/wire"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/tracer"
)

const (
	defaultReaperCron    = "@every 5m"
	defaultStaleRunAfter = 30 * time.Minute
	dlqAlertThreshold    = 10
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(loggerConfig(cfg)); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "job-worker",
		Environment: cfg.App.Env,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	einoobs.Init()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	rs := cfg.Messaging.RedisStream
	consumerName := hostnameConsumerName()
	newConsumer := func(stream messaging.Stream, group messaging.ConsumerGroup) *messaging.Consumer {
		return messaging.NewConsumer(worker.RedisClient.Redis(), messaging.ConsumerConfig{
			Stream:        stream,
			Group:         group.WithPrefix(rs.ConsumerGroupPrefix),
			ConsumerName:  consumerName,
			BlockTimeout:  rs.BlockTimeout,
			ClaimInterval: rs.ClaimInterval,
			RetryLimit:    rs.RetryLimit,
			Backoff:       messaging.BackoffFromConfig(rs.RetryBackoff),
		})
	}

	pipelineConsumer := newConsumer(messaging.StreamPipeline, messaging.ConsumerGroupPipelineWorker)
	pipelineConsumer.RegisterHandler(messaging.MessageTypePipelineRun, func(ctx context.Context, msg *messaging.Message) error {
		var job entity.PipelineJob
		if err := msg.UnmarshalPayload(&job); err != nil {
			return messaging.Permanent(err)
		}
		return retryable(worker.Orchestrator.Execute(ctx, &job))
	})

	visualConsumer := newConsumer(messaging.StreamVisual, messaging.ConsumerGroupVisualWorker)
	visualConsumer.RegisterHandler(messaging.MessageTypeVisualBatch, func(ctx context.Context, msg *messaging.Message) error {
		var job entity.VisualJob
		if err := msg.UnmarshalPayload(&job); err != nil {
			return messaging.Permanent(err)
		}
		_, err := worker.Visual.Execute(ctx, &job)
		return retryable(err)
	})

	for _, c := range []*messaging.Consumer{pipelineConsumer, visualConsumer} {
		if err := c.Start(ctx); err != nil {
			logger.Fatal(ctx, "failed to start consumer", err)
		}
		go c.MonitorDLQ(ctx, dlqAlertThreshold)
	}

	var scheduler *cron.Cron
	if cfg.Scheduler.Enabled {
		scheduler = cron.New()
		spec := cfg.Scheduler.ReaperCron
		if spec == "" {
			spec = defaultReaperCron
		}
		staleAfter := cfg.Scheduler.StaleRunAfter
		if staleAfter <= 0 {
			staleAfter = defaultStaleRunAfter
		}
		if _, err := scheduler.AddFunc(spec, func() {
			if _, err := worker.Orchestrator.ReapStale(ctx, staleAfter); err != nil {
				logger.Error(ctx, "stale run reaper failed", err)
			}
		}); err != nil {
			logger.Fatal(ctx, "invalid reaper schedule", err, "spec", spec)
		}
		scheduler.Start()
	}

	var metricsSrv *http.Server
	if m := cfg.Observability.Metrics; m.Enabled && m.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle(m.Path, promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", m.Port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "metrics server error", err)
			}
		}()
	}

	log := logger.FromContext(ctx)
	log.Info("job-worker started", "consumer", consumerName, "reaper", cfg.Scheduler.Enabled)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("job-worker shutting down")
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	pipelineConsumer.Stop()
	visualConsumer.Stop()
	cancel()
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

// retryable 项目不存在或缺少前置数据时重投无意义
func retryable(err error) error {
	if errors.Is(err, apperrors.ErrProjectNotFound) || errors.Is(err, apperrors.ErrDependencyFailure) {
		return messaging.Permanent(err)
	}
	return err
}

func loggerConfig(cfg *config.Config) logger.Config {
	l := cfg.Observability.Logging
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		Output:     l.Output,
		FilePath:   l.FilePath,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
	}
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
