package messaging

import (
	"context"
	"testing"
	"time"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	"film-ai-api/pkg/logger"
)

func TestCalculateBackoff(t *testing.T) {
	b := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := b.CalculateBackoff(tc.retry); got != tc.want {
			t.Errorf("retry %d: got %s, want %s", tc.retry, got, tc.want)
		}
	}
}

func TestBackoffFromConfigFillsDefaults(t *testing.T) {
	b := BackoffFromConfig(config.BackoffConfig{Initial: 3 * time.Second, Multiplier: 0.5})
	def := DefaultBackoffConfig()
	if b.Initial != 3*time.Second {
		t.Fatalf("expected configured initial, got %s", b.Initial)
	}
	if b.Max != def.Max || b.Multiplier != def.Multiplier {
		t.Fatalf("expected defaults for max/multiplier, got %+v", b)
	}
}

func TestConsumerGroupWithPrefix(t *testing.T) {
	if got := ConsumerGroupPipelineWorker.WithPrefix(""); got != ConsumerGroupPipelineWorker {
		t.Fatalf("empty prefix changed group: %s", got)
	}
	if got := ConsumerGroupVisualWorker.WithPrefix("staging"); got != "staging:cg-visual-worker" {
		t.Fatalf("unexpected prefixed group %s", got)
	}
}

func TestMessagePayloadAndMetadata(t *testing.T) {
	job := &entity.PipelineJob{
		RunID:     "run-1",
		ProjectID: "p-1",
		Stages:    []entity.StageName{entity.StageScenes},
	}
	msg, err := NewMessage(job.RunID, MessageTypePipelineRun, job.ProjectID, job)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	ctx := logger.WithContext(context.Background(), logger.RequestIDKey, "req-9")
	withRequestMetadata(ctx, msg)
	if msg.GetMetadata("request_id") != "req-9" {
		t.Fatalf("request id not attached: %v", msg.Metadata)
	}
	if msg.GetMetadata("trace_id") != "" {
		t.Fatalf("unexpected trace id without span: %v", msg.Metadata)
	}

	var decoded entity.PipelineJob
	if err := msg.UnmarshalPayload(&decoded); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if decoded.RunID != "run-1" || len(decoded.Stages) != 1 || decoded.Stages[0] != entity.StageScenes {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestStreamDLQ(t *testing.T) {
	if got := StreamVisual.DLQStream(); got != "dlq:stream:film:visual" {
		t.Fatalf("unexpected dlq stream %s", got)
	}
}
