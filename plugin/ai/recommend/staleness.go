package recommend

import (
	"time"
)

// StalenessPolicy decides whether a cached record can be served as-is.
type StalenessPolicy struct {
	TTL time.Duration
	// EnergyDrift is the largest energy change that keeps a record fresh.
	EnergyDrift int
	// TimeDriftMinutes is the largest available-time change that keeps a record fresh.
	TimeDriftMinutes int
	Now              func() time.Time
}

// DefaultStalenessPolicy returns the policy with the stock thresholds.
func DefaultStalenessPolicy() StalenessPolicy {
	return StalenessPolicy{
		TTL:              5 * time.Minute,
		EnergyDrift:      2,
		TimeDriftMinutes: 30,
		Now:              time.Now,
	}
}

// IsStale reports whether cached must be regenerated for the caller's
// current fingerprint, method and context. It never mutates its inputs.
func (p StalenessPolicy) IsStale(cached *Record, fingerprint string, method Method, uc UserContext) bool {
	if cached == nil {
		return true
	}
	if cached.SourceFingerprint != fingerprint {
		return true
	}
	if cached.Method != method {
		return true
	}
	if cached.Context.Mood != uc.Mood {
		return true
	}
	if abs(cached.Context.EnergyLevel-uc.EnergyLevel) > p.EnergyDrift {
		return true
	}
	if abs(cached.Context.AvailableTimeMinutes-uc.AvailableTimeMinutes) > p.TimeDriftMinutes {
		return true
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return p.TTL > 0 && now().Sub(cached.WrittenAt) > p.TTL
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
