package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"film-ai-api/internal/config"
	"film-ai-api/internal/interfaces/http/handler"
)

func TestRouter_RegistersRoutes(t *testing.T) {
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.Observability.Metrics.Enabled = true
	cfg.Observability.Metrics.Path = "/metrics"

	r := New(cfg, &Handlers{
		Health:   handler.NewHealthHandler(nil, nil, nil),
		Pipeline: handler.NewPipelineHandler(nil),
		Visual:   handler.NewVisualHandler(nil),
		Analysis: handler.NewAnalysisHandler(nil, nil),
	}, nil, nil)

	want := map[string]bool{
		"POST /api/v1/projects/:pid/pipeline":                false,
		"DELETE /api/v1/projects/:pid/pipeline":              false,
		"GET /api/v1/projects/:pid/progress":                 false,
		"GET /api/v1/projects/:pid/progress/stream":          false,
		"GET /api/v1/projects/:pid/progress/ws":              false,
		"POST /api/v1/projects/:pid/visuals":                 false,
		"GET /api/v1/projects/:pid/visuals":                  false,
		"DELETE /api/v1/projects/:pid/visuals":               false,
		"POST /api/v1/projects/:pid/script/analyze-document": false,
		"POST /api/v1/casting/actor-analysis":                false,
		"GET /metrics":                                       false,
		"GET /live":                                          false,
	}
	for _, route := range r.Engine().Routes() {
		key := route.Method + " " + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, found := range want {
		if !found {
			t.Fatalf("route %s not registered", key)
		}
	}
}

func TestRouter_LiveWithoutDependencies(t *testing.T) {
	cfg := &config.Config{}
	r := New(cfg, &Handlers{
		Health:   handler.NewHealthHandler(nil, nil, nil),
		Pipeline: handler.NewPipelineHandler(nil),
		Visual:   handler.NewVisualHandler(nil),
		Analysis: handler.NewAnalysisHandler(nil, nil),
	}, nil, nil)

	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
