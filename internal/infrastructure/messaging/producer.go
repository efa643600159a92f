package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/tracer"
)

var otelTracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, cfg *config.Config) *Producer {
	maxLen := int64(cfg.Messaging.RedisStream.MaxLen)
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := otelTracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", apperrors.ErrMessaging.WithDetail("publish to " + string(stream)).WithError(err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// DispatchPipeline 投递分析流水线任务
func (p *Producer) DispatchPipeline(ctx context.Context, job *entity.PipelineJob) error {
	msg, err := NewMessage(job.RunID, MessageTypePipelineRun, job.ProjectID, job)
	if err != nil {
		return err
	}
	withRequestMetadata(ctx, msg)

	if _, err := p.Publish(ctx, StreamPipeline, msg); err != nil {
		return err
	}
	return nil
}

// DispatchVisual 投递分镜批次任务
func (p *Producer) DispatchVisual(ctx context.Context, job *entity.VisualJob) error {
	msg, err := NewMessage(job.BatchID, MessageTypeVisualBatch, job.ProjectID, job)
	if err != nil {
		return err
	}
	withRequestMetadata(ctx, msg)

	if _, err := p.Publish(ctx, StreamVisual, msg); err != nil {
		return err
	}
	return nil
}

// withRequestMetadata 把请求 ID 与 trace ID 带到 worker 侧日志
func withRequestMetadata(ctx context.Context, msg *Message) {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}
	if traceID := tracer.TraceID(ctx); traceID != "" {
		msg.SetMetadata("trace_id", traceID)
	}
}
