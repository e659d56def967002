package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/dayflow/server/auth"
	"github.com/hrygo/dayflow/server/service/taskcache"
)

// InvalidateCacheRequest is the body of POST /cache/invalidate.
type InvalidateCacheRequest struct {
	Family string `json:"family" validate:"required,oneof=date category"`
	Key    string `json:"key" validate:"required,max=64"`
}

// InvalidateCache drops one cached task partition of the caller.
// POST /api/v1/cache/invalidate
func (s *APIV1Service) InvalidateCache(c echo.Context) error {
	var req InvalidateCacheRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}
	userID, _ := auth.UserIDFromContext(c.Request().Context())
	partition := taskcache.Partition{UserID: userID, Family: req.Family, Key: req.Key}
	if err := s.Tasks.Invalidate(c.Request().Context(), partition); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
