package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/dayflow/plugin/ai/recommend"
	"github.com/hrygo/dayflow/server/auth"
	"github.com/hrygo/dayflow/server/service/taskcache"
)

// UserContext is the caller's self-reported state.
type UserContext struct {
	Mood                 string `json:"mood" validate:"omitempty,oneof=tired stressed anxious sad neutral happy energetic motivated focused"`
	EnergyLevel          int    `json:"energyLevel" validate:"min=0,max=10"`
	AvailableTimeMinutes int    `json:"availableTimeMinutes" validate:"min=0,max=1440"`
	Location             string `json:"location" validate:"max=128"`
}

// GetRecommendationsRequest is the body of POST /recommendations. The task
// set is the date partition or the category partition.
type GetRecommendationsRequest struct {
	Scope    string      `json:"scope" validate:"max=64"`
	Date     string      `json:"date" validate:"required_without=Category,omitempty,datetime=2006-01-02"`
	Category string      `json:"category" validate:"max=64"`
	Method   string      `json:"method" validate:"omitempty,oneof=remote local"`
	Context  UserContext `json:"context"`
	Count    int         `json:"count" validate:"min=0,max=20"`
}

// RecommendationItem is one recommended task.
type RecommendationItem struct {
	Task       *Task   `json:"task"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// GetRecommendationsResponse is the answer of POST /recommendations.
type GetRecommendationsResponse struct {
	Items             []*RecommendationItem `json:"items"`
	Method            string                `json:"method"`
	SourceFingerprint string                `json:"sourceFingerprint"`
	WrittenAt         time.Time             `json:"writtenAt"`
	Message           string                `json:"message,omitempty"`
}

func convertRecordToResponse(record *recommend.Record) *GetRecommendationsResponse {
	items := make([]*RecommendationItem, 0, len(record.Items))
	for _, it := range record.Items {
		items = append(items, &RecommendationItem{
			Task:       convertTaskFromStore(it.Task),
			Reason:     it.Reason,
			Confidence: it.Confidence,
		})
	}
	return &GetRecommendationsResponse{
		Items:             items,
		Method:            string(record.Method),
		SourceFingerprint: record.SourceFingerprint,
		WrittenAt:         record.WrittenAt,
		Message:           record.Message,
	}
}

// GetRecommendations recommends tasks out of one partition.
// POST /api/v1/recommendations
func (s *APIV1Service) GetRecommendations(c echo.Context) error {
	var req GetRecommendationsRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}
	ctx := c.Request().Context()

	userID, _ := auth.UserIDFromContext(ctx)
	partition := taskcache.ForDate(userID, req.Date)
	if req.Date == "" {
		partition = taskcache.ForCategory(userID, req.Category)
	}
	tasks, err := s.Tasks.Get(ctx, partition)
	if err != nil {
		return s.respondError(c, err)
	}

	scope := req.Scope
	if scope == "" {
		scope = partition.Family + ":" + partition.Key
	}
	record, err := s.Recommender.GetRecommendations(ctx, recommend.Request{
		Owner:  partition.Owner(),
		Scope:  scope,
		Tasks:  tasks,
		Method: recommend.Method(req.Method),
		Context: recommend.UserContext{
			Mood:                 recommend.Mood(req.Context.Mood),
			EnergyLevel:          req.Context.EnergyLevel,
			AvailableTimeMinutes: req.Context.AvailableTimeMinutes,
			Location:             req.Context.Location,
		},
		Count: req.Count,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, convertRecordToResponse(record))
}
