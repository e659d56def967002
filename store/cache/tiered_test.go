package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredBackend_PromotesL2Hits(t *testing.T) {
	l1 := NewMemoryBackend()
	l2, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, l2.Set("tasks-date:2024-06-01", `[]`))

	tiered := NewTieredBackend(l1, l2)
	value, ok, err := tiered.Get("tasks-date:2024-06-01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, value)
	assert.Equal(t, []string{"tasks-date:2024-06-01"}, l1.Keys())
}

func TestTieredBackend_WritesThrough(t *testing.T) {
	l1 := NewMemoryBackend()
	l2 := NewMemoryBackend()
	tiered := NewTieredBackend(l1, l2)

	require.NoError(t, tiered.Set("k", "v"))
	assert.Equal(t, []string{"k"}, l1.Keys())
	assert.Equal(t, []string{"k"}, l2.Keys())

	require.NoError(t, tiered.Remove("k"))
	assert.Empty(t, l1.Keys())
	assert.Empty(t, l2.Keys())

	_, ok, err := tiered.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTieredBackend_StoreSurvivesLosingL1(t *testing.T) {
	dir := t.TempDir()
	l2, err := NewFileBackend(dir)
	require.NoError(t, err)
	cfg := Config{Prefix: "tasks-date", Family: "date", TTL: time.Hour}

	s := New[payload](NewTieredBackend(NewMemoryBackend(), l2), cfg)
	require.NoError(t, s.Put("2024-06-01", payload{Name: "a", Count: 1}, false))

	reopened, err := NewFileBackend(dir)
	require.NoError(t, err)
	s = New[payload](NewTieredBackend(NewMemoryBackend(), reopened), cfg)
	entry, ok := s.Get("2024-06-01")
	require.True(t, ok)
	assert.Equal(t, payload{Name: "a", Count: 1}, entry.Payload)
}
