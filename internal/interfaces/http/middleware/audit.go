package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"film-ai-api/pkg/logger"
)

// AccessLog 请求日志中间件，skipPaths 中的路径（健康检查、指标）不记录
func AccessLog(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
			"body_size", c.Writer.Size(),
		}
		if pid := c.Param("pid"); pid != "" {
			args = append(args, "project_id", pid)
		}
		if c.Writer.Status() >= 500 {
			logger.Warn(c.Request.Context(), "api request failed", args...)
			return
		}
		logger.Info(c.Request.Context(), "api request", args...)
	}
}
