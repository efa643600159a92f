// Package postgres 提供 PostgreSQL 数据库访问层实现
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"film-ai-api/internal/config"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/resilience"
)

var tracer = otel.Tracer("postgres")

const pingTimeout = 5 * time.Second

// Client 持有 GORM 连接与连接池
type Client struct {
	db       *gorm.DB
	database string
}

// NewClient 打开连接、配置连接池并在启动阶段带重试地确认数据库可达
func NewClient(cfg *config.PostgresConfig) (*Client, error) {
	db, err := gorm.Open(postgres.Open(buildDSN(cfg)), &gorm.Config{
		Logger:         newGormLogger(time.Second),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres %s: %w", cfg.Database, err)
	}

	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx := context.Background()
	_, err = resilience.Retry(ctx, resilience.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
		func(ctx context.Context, _ int) (struct{}, error) {
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			return struct{}{}, pool.PingContext(pctx)
		})
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	c := &Client{db: db, database: cfg.Database}
	c.registerPoolStats()
	logger.Info(ctx, "postgres connected", "host", cfg.Host, "database", cfg.Database, "max_open_conns", cfg.MaxOpenConns)
	return c, nil
}

// buildDSN 以 URL 形式拼接连接串，密码中的特殊字符会被转义
func buildDSN(cfg *config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// registerPoolStats 把 database/sql 连接池指标导出到默认注册表
func (c *Client) registerPoolStats() {
	pool, err := c.db.DB()
	if err != nil {
		return
	}
	err = prometheus.Register(collectors.NewDBStatsCollector(pool, c.database))
	var already prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &already) {
		logger.Warn(context.Background(), "postgres pool stats not exported", "error", err.Error())
	}
}

// DB 返回 GORM 实例
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 关闭连接池
func (c *Client) Close() error {
	pool, err := c.db.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// HealthCheck 执行一次轻量查询
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.HealthCheck")
	defer span.End()

	var one int
	if err := c.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("postgres health check: %w", err)
	}
	return nil
}
