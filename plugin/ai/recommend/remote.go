package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/dayflow/store"
)

// RemoteRequest is what a remote recommender is asked.
type RemoteRequest struct {
	Tasks   []*store.Task
	Context UserContext
	Count   int
}

// RemoteItem is one suggestion returned by a remote recommender.
type RemoteItem struct {
	TaskID     string  `json:"task_id"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// RemoteRecommender is a model-backed recommender. Any returned error is
// treated as "unavailable"; callers never inspect it further.
type RemoteRecommender interface {
	Name() string
	Recommend(ctx context.Context, req RemoteRequest) ([]RemoteItem, error)
}

type remoteResponse struct {
	Items []RemoteItem `json:"items"`
}

const systemPrompt = `You are a daily planning assistant. Pick the tasks the user should do next.
Answer with JSON only, shaped as {"items":[{"task_id":"<uid>","reason":"<one short sentence>","confidence":<0..1>}]}.
Only use task ids from the list. Order items from most to least recommended.`

// buildPrompt renders the user prompt shared by every remote recommender.
func buildPrompt(req RemoteRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recommend up to %d tasks.\n", req.Count)
	if req.Context.Mood != "" {
		fmt.Fprintf(&b, "Mood: %s\n", req.Context.Mood)
	}
	if req.Context.EnergyLevel > 0 {
		fmt.Fprintf(&b, "Energy level (1-10): %d\n", req.Context.EnergyLevel)
	}
	if req.Context.AvailableTimeMinutes > 0 {
		fmt.Fprintf(&b, "Available time: %d minutes\n", req.Context.AvailableTimeMinutes)
	}
	if req.Context.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", req.Context.Location)
	}
	b.WriteString("Tasks:\n")
	for _, t := range req.Tasks {
		fmt.Fprintf(&b, "- id=%s title=%q priority=%d", t.UID, t.Title, t.Priority)
		if t.EstimatedMinutes > 0 {
			fmt.Fprintf(&b, " estimate=%dm", t.EstimatedMinutes)
		}
		if t.ScheduledStartTs != nil {
			b.WriteString(" scheduled=yes")
		}
		if t.Category != "" {
			fmt.Fprintf(&b, " category=%s", t.Category)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseRemoteResponse decodes a model answer, tolerating a fenced code block.
func parseRemoteResponse(content string) ([]RemoteItem, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var resp remoteResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &resp); err != nil {
		return nil, errors.Wrap(err, "malformed recommender response")
	}
	return resp.Items, nil
}

// toItems maps a remote answer onto the candidate tasks. The whole answer is
// rejected when it is empty, names an unknown or repeated task, or carries a
// confidence outside [0, 1].
func toItems(answer []RemoteItem, candidates []*store.Task, count int) ([]Item, error) {
	if len(answer) == 0 {
		return nil, errors.New("empty recommender answer")
	}
	byUID := make(map[string]*store.Task, len(candidates))
	for _, t := range candidates {
		byUID[t.UID] = t
	}
	seen := make(map[string]bool, len(answer))
	items := make([]Item, 0, len(answer))
	for _, ri := range answer {
		task, ok := byUID[ri.TaskID]
		if !ok {
			return nil, errors.Errorf("unknown task id %q", ri.TaskID)
		}
		if seen[ri.TaskID] {
			return nil, errors.Errorf("task id %q repeated", ri.TaskID)
		}
		if ri.Confidence < 0 || ri.Confidence > 1 {
			return nil, errors.Errorf("confidence %v out of range for %q", ri.Confidence, ri.TaskID)
		}
		seen[ri.TaskID] = true
		reason := ri.Reason
		if reason == "" {
			reason = "Suggested by assistant"
		}
		items = append(items, Item{Task: task, Reason: reason, Confidence: ri.Confidence})
	}
	if len(items) > count {
		items = items[:count]
	}
	return items, nil
}
