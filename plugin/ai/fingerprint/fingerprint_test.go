package fingerprint

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hrygo/dayflow/internal/errors"
	"github.com/hrygo/dayflow/store"
)

func sampleTasks() []*store.Task {
	return []*store.Task{
		{UID: "a", Status: store.TaskStatusPending, Priority: 5, UpdatedTs: 100},
		{UID: "b", Status: store.TaskStatusCompleted, Priority: 3, UpdatedTs: 200},
		{UID: "c", Status: store.TaskStatusPending, Priority: 1, UpdatedTs: 300},
		{UID: "d", Status: store.TaskStatusOther, Priority: 2, UpdatedTs: 400},
	}
}

func TestCompute_PermutationStable(t *testing.T) {
	want, err := Compute(sampleTasks())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(want, "sha256:"))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		tasks := sampleTasks()
		rng.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })
		got, err := Compute(tasks)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestCompute_FieldChangesAlterDigest(t *testing.T) {
	base := MustCompute(sampleTasks())

	tests := []struct {
		name   string
		mutate func(tasks []*store.Task) []*store.Task
	}{
		{"status", func(ts []*store.Task) []*store.Task { ts[0].Status = store.TaskStatusCompleted; return ts }},
		{"priority", func(ts []*store.Task) []*store.Task { ts[1].Priority = 4; return ts }},
		{"updated ts", func(ts []*store.Task) []*store.Task { ts[2].UpdatedTs++; return ts }},
		{"membership removed", func(ts []*store.Task) []*store.Task { return ts[:3] }},
		{"membership added", func(ts []*store.Task) []*store.Task {
			return append(ts, &store.Task{UID: "e", Status: store.TaskStatusPending, Priority: 3})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.mutate(sampleTasks()))
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestCompute_IgnoresPresentationFields(t *testing.T) {
	tasks := sampleTasks()
	base := MustCompute(tasks)
	tasks[0].Title = "renamed"
	tasks[0].EstimatedMinutes = 45
	assert.Equal(t, base, MustCompute(tasks))
}

func TestCompute_EmptySentinel(t *testing.T) {
	got, err := Compute(nil)
	require.NoError(t, err)
	assert.Equal(t, Empty, got)

	got, err = Compute([]*store.Task{})
	require.NoError(t, err)
	assert.Equal(t, Empty, got)

	single := MustCompute([]*store.Task{{UID: "x", Status: store.TaskStatusPending, Priority: 1}})
	assert.NotEqual(t, Empty, single)
}

func TestCompute_MalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*store.Task
	}{
		{"nil task", []*store.Task{nil}},
		{"empty uid", []*store.Task{{Priority: 3}}},
		{"priority too high", []*store.Task{{UID: "a", Priority: 6}}},
		{"priority zero", []*store.Task{{UID: "a", Priority: 0}}},
		{"duplicate uid", []*store.Task{{UID: "a", Priority: 1}, {UID: "a", Priority: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.tasks)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvariantViolation))
		})
	}

	assert.Panics(t, func() { MustCompute([]*store.Task{nil}) })
}
