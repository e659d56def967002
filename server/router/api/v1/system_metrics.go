package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/dayflow/internal/observability"
)

// MetricsOverviewResponse represents the overview response of system metrics
type MetricsOverviewResponse struct {
	*observability.MetricsSnapshot
	HitRate     float64 `json:"hitRate"`
	SuccessRate float64 `json:"successRate"`
	// Generations is the number of recommendation pipeline runs.
	Generations int64 `json:"generations"`
}

// GetMetricsOverview returns the cache and recommendation counters.
// GET /api/v1/system/metrics
func (s *APIV1Service) GetMetricsOverview(c echo.Context) error {
	snapshot := s.Metrics.Snapshot()
	return c.JSON(http.StatusOK, MetricsOverviewResponse{
		MetricsSnapshot: snapshot,
		HitRate:         snapshot.HitRate(),
		SuccessRate:     snapshot.SuccessRate(),
		Generations:     s.Recommender.Generations(),
	})
}
