package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dayflow/internal/observability"
	"github.com/hrygo/dayflow/internal/profile"
	"github.com/hrygo/dayflow/plugin/ai/recommend"
	"github.com/hrygo/dayflow/store/cache"
	teststore "github.com/hrygo/dayflow/store/test"
)

func testProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Data: t.TempDir(), Version: "test", Secret: "server-test-secret"}
	require.NoError(t, p.Validate())
	return p
}

func TestNewServerServesHealthz(t *testing.T) {
	ctx := context.Background()
	p := testProfile(t)
	s, err := NewServer(ctx, p, teststore.NewTestingStore(ctx, t), observability.NewLogger(io.Discard, "error", "text"))
	require.NoError(t, err)
	defer s.Shutdown(ctx)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?date=2024-06-01", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewCacheBackend(t *testing.T) {
	p := testProfile(t)
	backend, err := newCacheBackend(p)
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryBackend{}, backend)

	p.CacheBackend = "file"
	p.CacheDir = t.TempDir()
	backend, err = newCacheBackend(p)
	require.NoError(t, err)
	assert.IsType(t, &cache.FileBackend{}, backend)

	p.CacheBackend = "tiered"
	backend, err = newCacheBackend(p)
	require.NoError(t, err)
	assert.IsType(t, &cache.TieredBackend{}, backend)
}

func TestNewRemoteRecommender(t *testing.T) {
	ctx := context.Background()

	remote, err := newRemoteRecommender(ctx, &profile.Profile{AIProvider: "none"})
	require.NoError(t, err)
	assert.Nil(t, remote)

	remote, err = newRemoteRecommender(ctx, &profile.Profile{AIProvider: "openai"})
	require.NoError(t, err)
	assert.Nil(t, remote, "a provider without a key stays disabled")

	remote, err = newRemoteRecommender(ctx, &profile.Profile{AIProvider: "openai", AIAPIKey: "sk-test", AIModel: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.IsType(t, &recommend.OpenAIRecommender{}, remote)
}
