// Package crm 通过 NATS 把分析完成的项目作为线索提交给 CRM
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/metrics"
)

const defaultRequestTimeout = 5 * time.Second

// NATSClient CRM 线索提交；未启用时为空操作
type NATSClient struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATSClient 连接 NATS；未启用时返回不持有连接的客户端
func NewNATSClient(cfg *config.Config) (*NATSClient, error) {
	nc := cfg.CRM.NATS
	timeout := nc.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := &NATSClient{subject: nc.Subject, timeout: timeout}
	if !nc.Enabled {
		return client, nil
	}

	conn, err := nats.Connect(nc.URL,
		nats.Name("film-ai-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect nats: %w", err)
	}
	client.nc = conn
	return client, nil
}

// SubmitLead 以 request/reply 提交线索；无响应方时退化为单向发布
func (c *NATSClient) SubmitLead(ctx context.Context, lead *entity.Lead) (*entity.LeadResult, error) {
	if c.nc == nil {
		metrics.CRMLeadTotal.WithLabelValues("disabled").Inc()
		return &entity.LeadResult{}, nil
	}

	data, err := json.Marshal(lead)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(reqCtx, c.subject, data)
	if errors.Is(err, nats.ErrNoResponders) {
		if pubErr := c.nc.Publish(c.subject, data); pubErr != nil {
			metrics.CRMLeadTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("publish lead: %w", pubErr)
		}
		metrics.CRMLeadTotal.WithLabelValues("published").Inc()
		logger.Debug(ctx, "crm lead published without responder", "project_id", lead.ProjectID)
		return &entity.LeadResult{}, nil
	}
	if err != nil {
		metrics.CRMLeadTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("request lead: %w", err)
	}

	var result entity.LeadResult
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		metrics.CRMLeadTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("decode lead reply: %w", err)
	}
	metrics.CRMLeadTotal.WithLabelValues("success").Inc()
	return &result, nil
}

// Close 断开连接
func (c *NATSClient) Close() {
	if c.nc != nil {
		c.nc.Drain()
	}
}
