package redis

import (
	"testing"
	"time"

	"film-ai-api/internal/config"
)

func TestBuildOptions(t *testing.T) {
	opts := buildOptions(&config.RedisConfig{
		Host:        "::1",
		Port:        6380,
		DB:          2,
		PoolSize:    16,
		DialTimeout: 3 * time.Second,
	})
	if opts.Addr != "[::1]:6380" {
		t.Errorf("addr = %q", opts.Addr)
	}
	if opts.DB != 2 || opts.PoolSize != 16 || opts.DialTimeout != 3*time.Second {
		t.Errorf("options not carried over: %+v", opts)
	}
}

func TestKeyLayout(t *testing.T) {
	cases := map[string]string{
		buildKey("lock", "pipeline", "p1"):      "film:lock:pipeline:p1",
		profileCacheKey("p1", "  Ada Lovelace "): "film:profile:p1:ada lovelace",
		BuildRateLimitKey("10.0.0.1", "POST /x"): "film:ratelimit:10.0.0.1:POST /x",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("key = %q, want %q", got, want)
		}
	}
}

func TestRunLockScopesKeys(t *testing.T) {
	pipelineLock := &RunLock{scope: "pipeline"}
	visualLock := &RunLock{scope: "visual"}

	if pipelineLock.lockKey("p1") == visualLock.lockKey("p1") {
		t.Fatal("pipeline and visual locks share a key")
	}
	if pipelineLock.cancelKey("p1") != "film:cancel:pipeline:p1" {
		t.Errorf("cancel key = %q", pipelineLock.cancelKey("p1"))
	}
}
