package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"film-ai-api/internal/config"
)

type countingLimiter struct {
	counts map[string]int
	err    error
	limit  int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.limit = limit
	l.counts[key]++
	return l.counts[key] <= limit, nil
}

func newLimitedEngine(cfg RateLimitConfig, limiter RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(cfg, limiter, func(client, endpoint string) string { return client + "|" + endpoint }))
	r.GET("/projects/:pid/progress", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int{}}
	r := newLimitedEngine(RateLimitConfig{Enabled: true, RequestsPerSecond: 2, Burst: 1}, limiter)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/projects/p1/progress", nil))
		codes = append(codes, w.Code)
	}
	if limiter.limit != 3 {
		t.Fatalf("expected limit rps+burst=3, got %d", limiter.limit)
	}
	if codes[2] != http.StatusOK || codes[3] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
	if len(limiter.counts) != 1 {
		t.Fatalf("expected route template key shared across project ids, got %v", limiter.counts)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := newLimitedEngine(RateLimitConfig{Enabled: true}, &countingLimiter{err: errors.New("redis down")})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/projects/p1/progress", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected fail-open 200, got %d", w.Code)
	}
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = c.GetString("request_id")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if seen != "req-42" || w.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, w.Header().Get(RequestIDHeader))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestRecovery_ReturnsInternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("storyboard exploded") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"code":"1007"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestCORS_Origins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	preflight := func(cfg config.CORSConfig, origin string) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(CORS(cfg))
		r.DELETE("/pipeline", func(c *gin.Context) { c.Status(http.StatusAccepted) })

		req := httptest.NewRequest(http.MethodOptions, "/pipeline", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := preflight(config.CORSConfig{}, "https://studio.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("open config allow-origin = %q, want *", got)
	}

	restricted := config.CORSConfig{AllowedOrigins: []string{"https://studio.example"}}
	w = preflight(restricted, "https://studio.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://studio.example" {
		t.Errorf("allow-origin = %q", got)
	}
	w = preflight(restricted, "https://elsewhere.example")
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin status = %d, want 403", w.Code)
	}
}
