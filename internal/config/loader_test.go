package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("FILM_TEST_HOST", "db.internal")

	cases := []struct {
		in   string
		want string
	}{
		{"host: ${FILM_TEST_HOST}", "host: db.internal"},
		{"host: ${FILM_TEST_HOST:localhost}", "host: db.internal"},
		{"port: ${FILM_TEST_UNSET_PORT:5432}", "port: 5432"},
		{"key: ${FILM_TEST_UNSET_KEY:}", "key: "},
		{"raw: ${FILM_TEST_UNSET_RAW}", "raw: ${FILM_TEST_UNSET_RAW}"},
	}
	for _, tc := range cases {
		if got := expandEnv(tc.in); got != tc.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.Visual.MaxAttempts != 3 {
		t.Errorf("visual.max_attempts = %d, want 3", cfg.Visual.MaxAttempts)
	}
	if cfg.Visual.BreakerCooldown != 60*time.Second {
		t.Errorf("visual.breaker_cooldown = %v, want 60s", cfg.Visual.BreakerCooldown)
	}
	if cfg.Pipeline.ScriptCharBudget != 60000 {
		t.Errorf("pipeline.script_char_budget = %d", cfg.Pipeline.ScriptCharBudget)
	}
	if cfg.Pipeline.PlacementTopN != 10 {
		t.Errorf("pipeline.placement_top_n = %d", cfg.Pipeline.PlacementTopN)
	}
	if cfg.App.Name != "film-ai-api" {
		t.Errorf("app.name = %q", cfg.App.Name)
	}
}
