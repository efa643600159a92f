package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"film-ai-api/pkg/logger"
)

const traceIDHeader = "X-Trace-ID"

// Trace 为请求创建服务端 span，skipPaths 中的探活与指标路径不采样
func Trace(serviceName string, skipPaths ...string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName,
		otelgin.WithFilter(func(r *http.Request) bool {
			return !slices.Contains(skipPaths, r.URL.Path)
		}),
	)
}

// TraceContext 把当前 span 的标识写入日志上下文与响应头，并标注项目 ID
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		sc := trace.SpanContextFromContext(c.Request.Context())
		if !sc.IsValid() {
			c.Next()
			return
		}

		traceID := sc.TraceID().String()
		c.Set("trace_id", traceID)
		c.Header(traceIDHeader, traceID)

		ctx := logger.WithContext(c.Request.Context(), logger.TraceIDKey, traceID)
		ctx = logger.WithContext(ctx, logger.SpanIDKey, sc.SpanID().String())
		if pid := c.Param("pid"); pid != "" {
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("film.project_id", pid))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
