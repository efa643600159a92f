// Package redis 提供运行锁、角色描述缓存与限流的 Redis 实现
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"film-ai-api/internal/config"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/resilience"
)

var tracer = otel.Tracer("redis")

const (
	keyPrefix   = "film"
	pingTimeout = 5 * time.Second
)

// Client 包装 go-redis 客户端
type Client struct {
	rdb *redis.Client
}

// NewClient 建立连接，启动阶段 PING 失败时有限次重试
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	opts := buildOptions(cfg)
	rdb := redis.NewClient(opts)

	ctx := context.Background()
	_, err := resilience.Retry(ctx, resilience.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
		func(ctx context.Context, _ int) (string, error) {
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			return rdb.Ping(pctx).Result()
		})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	c := &Client{rdb: rdb}
	c.registerPoolStats()
	logger.Info(ctx, "redis connected", "addr", opts.Addr, "db", opts.DB, "pool_size", opts.PoolSize)
	return c, nil
}

func buildOptions(cfg *config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// registerPoolStats 导出连接池的当前连接数与空闲连接数
func (c *Client) registerPoolStats() {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "film",
			Subsystem: "redis",
			Name:      "pool_total_conns",
			Help:      "Total connections in the redis pool",
		}, func() float64 { return float64(c.rdb.PoolStats().TotalConns) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "film",
			Subsystem: "redis",
			Name:      "pool_idle_conns",
			Help:      "Idle connections in the redis pool",
		}, func() float64 { return float64(c.rdb.PoolStats().IdleConns) }),
	}
	for _, g := range gauges {
		var already prometheus.AlreadyRegisteredError
		if err := prometheus.Register(g); err != nil && !errors.As(err, &already) {
			logger.Warn(context.Background(), "redis pool stats not exported", "error", err.Error())
		}
	}
}

// Redis 返回底层客户端，供 Streams 生产者与消费者使用
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close 关闭连接池
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck PING 一次
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "redis.HealthCheck")
	defer span.End()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// buildKey 以统一前缀拼接键，例如 film:lock:pipeline:<project>
func buildKey(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}
