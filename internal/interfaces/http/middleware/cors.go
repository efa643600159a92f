package middleware

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"film-ai-api/internal/config"
)

var (
	defaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	defaultCORSHeaders = []string{"Origin", "Content-Type", "Accept", RequestIDHeader}
)

// CORS 跨域中间件；来源为空或包含 "*" 时放开全部来源。
// 进度 WebSocket 的握手同样受来源约束。
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:    cfg.AllowedMethods,
		AllowHeaders:    cfg.AllowedHeaders,
		ExposeHeaders:   []string{RequestIDHeader, traceIDHeader},
		AllowWebSockets: true,
		MaxAge:          12 * time.Hour,
	}
	if len(cc.AllowMethods) == 0 {
		cc.AllowMethods = defaultCORSMethods
	}
	if len(cc.AllowHeaders) == 0 {
		cc.AllowHeaders = defaultCORSHeaders
	}
	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(cc)
}
