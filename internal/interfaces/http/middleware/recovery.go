package middleware

import (
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
)

// Recovery 捕获 handler panic 并返回统一的 500 响应。
// 客户端断开导致的写失败由 gin 直接中止，不进入这里。
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Error(c.Request.Context(), "panic recovered", fmt.Errorf("%v", recovered),
			"route", c.FullPath(),
			"method", c.Request.Method,
			"stack", string(debug.Stack()),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":     apperrors.CodeInternalError,
			"message":  "internal server error",
			"trace_id": c.GetString("trace_id"),
		})
	})
}
