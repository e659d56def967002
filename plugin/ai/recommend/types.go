// Package recommend decides which tasks to suggest next. It reuses a cached
// recommendation while it is still fresh for the caller's task set, method
// and context, and otherwise regenerates through a remote recommender with a
// silent fallback to a local heuristic.
package recommend

import (
	"time"

	"github.com/hrygo/dayflow/store"
)

// Method is the generation strategy.
type Method string

const (
	MethodRemote Method = "remote"
	MethodLocal  Method = "local"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m == MethodRemote || m == MethodLocal
}

// Mood is the user's self-reported state.
type Mood string

const (
	MoodTired     Mood = "tired"
	MoodStressed  Mood = "stressed"
	MoodAnxious   Mood = "anxious"
	MoodSad       Mood = "sad"
	MoodNeutral   Mood = "neutral"
	MoodHappy     Mood = "happy"
	MoodEnergetic Mood = "energetic"
	MoodMotivated Mood = "motivated"
	MoodFocused   Mood = "focused"
)

// LowCapacity reports moods that favor lighter tasks.
func (m Mood) LowCapacity() bool {
	switch m {
	case MoodTired, MoodStressed, MoodAnxious, MoodSad:
		return true
	}
	return false
}

// HighCapacity reports moods that favor demanding tasks.
func (m Mood) HighCapacity() bool {
	switch m {
	case MoodEnergetic, MoodMotivated, MoodFocused:
		return true
	}
	return false
}

// UserContext biases generation and takes part in staleness decisions.
type UserContext struct {
	Mood Mood `json:"mood,omitempty"`
	// EnergyLevel ranges 1..10; 0 means not reported.
	EnergyLevel int `json:"energyLevel,omitempty"`
	// AvailableTimeMinutes is the free time the user has; 0 means not reported.
	AvailableTimeMinutes int    `json:"availableTimeMinutes,omitempty"`
	Location             string `json:"location,omitempty"`
}

// Item is one recommended task.
type Item struct {
	Task       *store.Task `json:"task"`
	Reason     string      `json:"reason"`
	Confidence float64     `json:"confidence"`
}

// Record is a generated recommendation list together with the inputs it was
// generated from.
type Record struct {
	Items             []Item      `json:"items"`
	Method            Method      `json:"method"`
	SourceFingerprint string      `json:"sourceFingerprint"`
	Context           UserContext `json:"context"`
	WrittenAt         time.Time   `json:"writtenAt"`
	// Message explains an empty list ("no tasks", "all done", ...).
	Message string `json:"message,omitempty"`
}

const (
	MessageNoTasks   = "no tasks"
	MessageAllDone   = "all done"
	MessageNoFit     = "no tasks fit your current context"
	defaultScope     = "default"
	defaultCount     = 3
	lowEnergyLevel   = 3
	lowEnergyMaxMins = 30
)

// Request is the input of GetRecommendations.
type Request struct {
	// Owner scopes the cached record to one user. Empty shares the record
	// between every caller of Scope.
	Owner string
	// Scope is the logical cache key, e.g. a date or category. Defaults to "default".
	Scope   string
	Tasks   []*store.Task
	Method  Method
	Context UserContext
	// Count is the number of items wanted. Defaults to the orchestrator's default.
	Count int
}
