package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"film-ai-api/pkg/metrics"
)

// Metrics 按路由模板采集请求计数与耗时。
// streamRoutes 中的长连接路由只计入在线连接数，不进入耗时直方图。
func Metrics(streamRoutes ...string) gin.HandlerFunc {
	streams := make(map[string]struct{}, len(streamRoutes))
	for _, r := range streamRoutes {
		streams[r] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		if _, ok := streams[route]; ok {
			active := metrics.HTTPStreamsActive.WithLabelValues(route)
			active.Inc()
			defer active.Dec()
			c.Next()
			metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
			return
		}

		start := time.Now()
		c.Next()
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
