package v1

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/dayflow/internal/observability"
	"github.com/hrygo/dayflow/internal/profile"
	"github.com/hrygo/dayflow/plugin/ai/recommend"
	"github.com/hrygo/dayflow/server/auth"
	"github.com/hrygo/dayflow/server/middleware"
	"github.com/hrygo/dayflow/server/service/taskcache"
)

type APIV1Service struct {
	Profile     *profile.Profile
	Tasks       *taskcache.Manager
	Recommender *recommend.Orchestrator
	Metrics     *observability.Metrics

	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewAPIV1Service(profile *profile.Profile, tasks *taskcache.Manager, recommender *recommend.Orchestrator, metrics *observability.Metrics, logger *slog.Logger) *APIV1Service {
	if metrics == nil {
		metrics = observability.GlobalMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return &APIV1Service{
		Profile:     profile,
		Tasks:       tasks,
		Recommender: recommender,
		Metrics:     metrics,
		validate:    validate,
		logger:      logger,
		now:         time.Now,
	}
}

// Register mounts the API on echoServer. Everything under /api/v1 is rate
// limited per client IP, requires a bearer token and is then rate limited
// per user.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": s.Profile.Version})
	})

	ipLimiter := middleware.NewRateLimiter(s.Profile.RateLimit, s.Profile.RateBurst)
	userLimiter := middleware.NewRateLimiter(s.Profile.RateLimit, s.Profile.RateBurst)
	api := echoServer.Group("/api/v1",
		echomiddleware.CORS(),
		middleware.RateLimitByIP(ipLimiter),
		middleware.Authenticate(middleware.AuthConfig{
			Secret:    s.Profile.Secret,
			OnFailure: s.Tasks.OnAuthenticationFailure,
			Now:       func() time.Time { return s.now() },
			Logger:    s.logger,
		}),
		middleware.RateLimit(userLimiter),
		s.withRequestContext,
	)

	api.GET("/tasks", s.ListTasks)
	api.POST("/tasks", s.CreateTask)
	api.PATCH("/tasks/:uid", s.UpdateTask)
	api.DELETE("/tasks/:uid", s.DeleteTask)
	api.POST("/cache/invalidate", s.InvalidateCache)
	api.POST("/recommendations", s.GetRecommendations)
	api.GET("/system/metrics", s.GetMetricsOverview)
}

// withRequestContext attaches a request-scoped logger to the request context.
func (s *APIV1Service) withRequestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, _ := auth.UserIDFromContext(ctx)
		operation := c.Request().Method + " " + c.Path()
		var rc *observability.RequestContext
		if id := c.Request().Header.Get(echo.HeaderXRequestID); id != "" {
			rc = observability.NewRequestContextWithID(s.logger, id, operation, userID)
		} else {
			rc = observability.NewRequestContext(s.logger, operation, userID)
		}
		c.Response().Header().Set(echo.HeaderXRequestID, rc.RequestID)
		c.SetRequest(c.Request().WithContext(observability.WithRequestContext(ctx, rc)))

		err := next(c)
		rc.Debug("request finished",
			slog.Int("status", c.Response().Status),
			slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
		return err
	}
}

func (s *APIV1Service) bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return &requestError{message: "malformed request body"}
	}
	if err := s.validate.Struct(v); err != nil {
		return &requestError{message: validationMessage(err)}
	}
	return nil
}

func requestLogger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	return observability.LoggerFrom(ctx, fallback)
}
