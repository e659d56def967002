package recommend

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hrygo/dayflow/store"
)

const (
	baseConfidence  = 0.9
	confidenceDecay = 0.85
)

// rankLocal is the heuristic tier. It needs no I/O and always answers.
//
// Incomplete tasks are split into tier A (priority >= 4) and tier B
// (priority 3). The first non-empty of the two leads, ordered by priority
// with scheduled tasks first on ties; every other incomplete task follows in
// tier C order (scheduled first, then priority). Context filters and mood
// preference run on that list before it is truncated to count.
func rankLocal(tasks []*store.Task, uc UserContext, count int) ([]Item, string) {
	incomplete := make([]*store.Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.IsCompleted() {
			incomplete = append(incomplete, t)
		}
	}
	if len(incomplete) == 0 {
		return []Item{}, MessageAllDone
	}

	var tierA, tierB, rest []*store.Task
	for _, t := range incomplete {
		switch {
		case t.Priority >= 4:
			tierA = append(tierA, t)
		case t.Priority == 3:
			tierB = append(tierB, t)
		}
	}

	var primary []*store.Task
	switch {
	case len(tierA) > 0:
		primary = tierA
	case len(tierB) > 0:
		primary = tierB
	}
	inPrimary := make(map[string]bool, len(primary))
	for _, t := range primary {
		inPrimary[t.UID] = true
	}
	for _, t := range incomplete {
		if !inPrimary[t.UID] {
			rest = append(rest, t)
		}
	}
	sort.SliceStable(primary, func(i, j int) bool { return byPriority(primary[i], primary[j]) })
	sort.SliceStable(rest, func(i, j int) bool { return byScheduleThenPriority(rest[i], rest[j]) })

	candidates := filterByContext(append(primary, rest...), uc)
	if len(candidates) == 0 {
		return []Item{}, MessageNoFit
	}
	candidates = preferByMood(candidates, uc.Mood)
	if len(candidates) > count {
		candidates = candidates[:count]
	}

	items := make([]Item, 0, len(candidates))
	for i, t := range candidates {
		items = append(items, Item{
			Task:       t,
			Reason:     localReason(t, uc),
			Confidence: baseConfidence * math.Pow(confidenceDecay, float64(i)),
		})
	}
	return items, ""
}

// byPriority orders by priority desc, then scheduled first, then earliest
// start, then UID.
func byPriority(a, b *store.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return byScheduleTieBreak(a, b)
}

// byScheduleThenPriority orders scheduled tasks first, then by priority desc.
func byScheduleThenPriority(a, b *store.Task) bool {
	as, bs := a.ScheduledStartTs != nil, b.ScheduledStartTs != nil
	if as != bs {
		return as
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return byScheduleTieBreak(a, b)
}

func byScheduleTieBreak(a, b *store.Task) bool {
	as, bs := a.ScheduledStartTs != nil, b.ScheduledStartTs != nil
	if as != bs {
		return as
	}
	if as && *a.ScheduledStartTs != *b.ScheduledStartTs {
		return *a.ScheduledStartTs < *b.ScheduledStartTs
	}
	return a.UID < b.UID
}

// filterByContext drops tasks too long for the user's energy or free time.
// Tasks without an estimate are kept.
func filterByContext(tasks []*store.Task, uc UserContext) []*store.Task {
	out := make([]*store.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.EstimatedMinutes > 0 {
			if uc.EnergyLevel > 0 && uc.EnergyLevel <= lowEnergyLevel && t.EstimatedMinutes > lowEnergyMaxMins {
				continue
			}
			if uc.AvailableTimeMinutes > 0 && t.EstimatedMinutes > uc.AvailableTimeMinutes {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// preferByMood moves the tasks suited to the mood to the front, keeping the
// relative order within each group.
func preferByMood(tasks []*store.Task, mood Mood) []*store.Task {
	var suits func(*store.Task) bool
	switch {
	case mood.LowCapacity():
		suits = func(t *store.Task) bool { return t.Priority <= 3 }
	case mood.HighCapacity():
		suits = func(t *store.Task) bool { return t.Priority >= 4 }
	default:
		return tasks
	}
	preferred := make([]*store.Task, 0, len(tasks))
	others := make([]*store.Task, 0, len(tasks))
	for _, t := range tasks {
		if suits(t) {
			preferred = append(preferred, t)
		} else {
			others = append(others, t)
		}
	}
	return append(preferred, others...)
}

func localReason(t *store.Task, uc UserContext) string {
	var parts []string
	switch {
	case t.Priority >= 4:
		parts = append(parts, "high priority")
	case t.Priority == 3:
		parts = append(parts, "medium priority")
	default:
		parts = append(parts, "low priority")
	}
	if t.ScheduledStartTs != nil {
		parts = append(parts, "already scheduled")
	}
	if uc.Mood.LowCapacity() && t.Priority <= 3 {
		parts = append(parts, fmt.Sprintf("manageable while %s", uc.Mood))
	}
	if uc.Mood.HighCapacity() && t.Priority >= 4 {
		parts = append(parts, fmt.Sprintf("good use of feeling %s", uc.Mood))
	}
	if t.EstimatedMinutes > 0 && uc.AvailableTimeMinutes > 0 {
		parts = append(parts, fmt.Sprintf("fits in your %d free minutes", uc.AvailableTimeMinutes))
	}
	reason := strings.Join(parts, ", ")
	return strings.ToUpper(reason[:1]) + reason[1:]
}
