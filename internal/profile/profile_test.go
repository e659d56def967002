package profile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dayflowEnvVars = []string{
	"DAYFLOW_MODE", "DAYFLOW_DRIVER", "DAYFLOW_DSN", "DAYFLOW_DATA", "DAYFLOW_SECRET",
	"DAYFLOW_LOG_LEVEL", "DAYFLOW_LOG_FORMAT", "DAYFLOW_CACHE_BACKEND", "DAYFLOW_CACHE_DIR",
	"DAYFLOW_TASK_CACHE_MAX_ENTRIES", "DAYFLOW_TASK_CACHE_TTL", "DAYFLOW_RECOMMEND_TTL",
	"DAYFLOW_RECOMMEND_MAX_ENTRIES", "DAYFLOW_RECOMMEND_COUNT", "DAYFLOW_RECOMMEND_ENERGY_DRIFT",
	"DAYFLOW_RECOMMEND_TIME_DRIFT", "DAYFLOW_RECOMMEND_REMOTE_TIMEOUT", "DAYFLOW_AI_PROVIDER",
	"DAYFLOW_AI_API_KEY", "DAYFLOW_AI_BASE_URL", "DAYFLOW_AI_MODEL",
}

// clearEnv blanks every DAYFLOW_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range dayflowEnvVars {
		t.Setenv(key, "")
	}
}

func TestProfileDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()
	p.ApplyDefaults()

	tests := []struct {
		name     string
		expected any
		actual   any
	}{
		{"Driver", "sqlite", p.Driver},
		{"LogLevel", "info", p.LogLevel},
		{"CacheBackend", "memory", p.CacheBackend},
		{"TaskCacheMaxEntries", 31, p.TaskCacheMaxEntries},
		{"TaskCacheTTL", 10 * time.Minute, p.TaskCacheTTL},
		{"RecommendTTL", 5 * time.Minute, p.RecommendTTL},
		{"RecommendCount", 3, p.RecommendCount},
		{"RecommendEnergyDrift", 2, p.RecommendEnergyDrift},
		{"RecommendTimeDrift", 30, p.RecommendTimeDrift},
		{"RecommendRemoteTimeout", 8 * time.Second, p.RecommendRemoteTimeout},
		{"AIProvider", "none", p.AIProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.actual)
		})
	}
	assert.False(t, p.IsRemoteEnabled())
}

func TestProfileFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DAYFLOW_AI_PROVIDER", "openai")
	t.Setenv("DAYFLOW_AI_API_KEY", "sk-test")
	t.Setenv("DAYFLOW_RECOMMEND_TTL", "90s")
	t.Setenv("DAYFLOW_RECOMMEND_ENERGY_DRIFT", "4")
	t.Setenv("DAYFLOW_TASK_CACHE_MAX_ENTRIES", "not-a-number")

	p := &Profile{TaskCacheMaxEntries: 7}
	p.FromEnv()
	p.ApplyDefaults()

	assert.Equal(t, "openai", p.AIProvider)
	assert.Equal(t, "gpt-4o-mini", p.AIModel)
	assert.Equal(t, "https://api.openai.com/v1", p.AIBaseURL)
	assert.Equal(t, 90*time.Second, p.RecommendTTL)
	assert.Equal(t, 4, p.RecommendEnergyDrift)
	assert.Equal(t, 7, p.TaskCacheMaxEntries, "invalid env value keeps the existing setting")
	assert.True(t, p.IsRemoteEnabled())
}

func TestProfileValidate(t *testing.T) {
	clearEnv(t)

	t.Run("sqlite dsn derived from data dir", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{Mode: "dev", Data: dir, CacheBackend: "file"}
		require.NoError(t, p.Validate())
		assert.Equal(t, filepath.Join(dir, "dayflow_dev.db"), p.DSN)
		assert.Equal(t, filepath.Join(dir, "cache"), p.CacheDir)
	})

	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		p := &Profile{Mode: "staging", Data: t.TempDir()}
		require.NoError(t, p.Validate())
		assert.Equal(t, "demo", p.Mode)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir(), Driver: "postgres"}
		assert.Error(t, p.Validate())
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir(), AIProvider: "ollama"}
		assert.Error(t, p.Validate())
	})

	t.Run("missing data dir", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: filepath.Join(t.TempDir(), "missing")}
		assert.Error(t, p.Validate())
	})
}
