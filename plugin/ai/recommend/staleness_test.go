package recommend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStalenessPolicy_IsStale(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	policy := StalenessPolicy{
		TTL:              5 * time.Minute,
		EnergyDrift:      2,
		TimeDriftMinutes: 30,
		Now:              func() time.Time { return now },
	}
	uc := UserContext{Mood: MoodFocused, EnergyLevel: 6, AvailableTimeMinutes: 60}
	fresh := &Record{
		Method:            MethodLocal,
		SourceFingerprint: "sha256:abc",
		Context:           uc,
		WrittenAt:         now.Add(-time.Minute),
	}

	tests := []struct {
		name   string
		cached *Record
		fp     string
		method Method
		uc     UserContext
		want   bool
	}{
		{"no record", nil, "sha256:abc", MethodLocal, uc, true},
		{"fresh", fresh, "sha256:abc", MethodLocal, uc, false},
		{"fingerprint changed", fresh, "sha256:def", MethodLocal, uc, true},
		{"method changed", fresh, "sha256:abc", MethodRemote, uc, true},
		{"mood changed", fresh, "sha256:abc", MethodLocal, UserContext{Mood: MoodTired, EnergyLevel: 6, AvailableTimeMinutes: 60}, true},
		{"energy within drift", fresh, "sha256:abc", MethodLocal, UserContext{Mood: MoodFocused, EnergyLevel: 8, AvailableTimeMinutes: 60}, false},
		{"energy beyond drift", fresh, "sha256:abc", MethodLocal, UserContext{Mood: MoodFocused, EnergyLevel: 3, AvailableTimeMinutes: 60}, true},
		{"time within drift", fresh, "sha256:abc", MethodLocal, UserContext{Mood: MoodFocused, EnergyLevel: 6, AvailableTimeMinutes: 90}, false},
		{"time beyond drift", fresh, "sha256:abc", MethodLocal, UserContext{Mood: MoodFocused, EnergyLevel: 6, AvailableTimeMinutes: 91}, true},
		{"expired", &Record{Method: MethodLocal, SourceFingerprint: "sha256:abc", Context: uc, WrittenAt: now.Add(-6 * time.Minute)}, "sha256:abc", MethodLocal, uc, true},
		{"exactly at ttl", &Record{Method: MethodLocal, SourceFingerprint: "sha256:abc", Context: uc, WrittenAt: now.Add(-5 * time.Minute)}, "sha256:abc", MethodLocal, uc, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.IsStale(tt.cached, tt.fp, tt.method, tt.uc))
		})
	}
}

func TestStalenessPolicy_ConfiguredThresholds(t *testing.T) {
	now := time.Now()
	policy := StalenessPolicy{EnergyDrift: 0, TimeDriftMinutes: 5, Now: func() time.Time { return now }}
	cached := &Record{Method: MethodLocal, SourceFingerprint: "fp", WrittenAt: now, Context: UserContext{EnergyLevel: 5, AvailableTimeMinutes: 30}}

	assert.True(t, policy.IsStale(cached, "fp", MethodLocal, UserContext{EnergyLevel: 6, AvailableTimeMinutes: 30}))
	assert.False(t, policy.IsStale(cached, "fp", MethodLocal, UserContext{EnergyLevel: 5, AvailableTimeMinutes: 35}))
	assert.True(t, policy.IsStale(cached, "fp", MethodLocal, UserContext{EnergyLevel: 5, AvailableTimeMinutes: 36}))
}
