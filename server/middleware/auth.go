package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/dayflow/server/auth"
)

// AuthConfig configures Authenticate.
type AuthConfig struct {
	Secret string
	// OnFailure runs when a request presents a genuine token of userID that
	// has expired, before the 401 is written. Forged or malformed tokens
	// never reach it.
	OnFailure func(ctx context.Context, userID int32) error
	Now       func() time.Time
	Logger    *slog.Logger
}

// Authenticate requires a valid bearer token and stores its user id in the
// request context.
func Authenticate(cfg AuthConfig) echo.MiddlewareFunc {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			}
			claims, err := auth.ParseToken(cfg.Secret, token, cfg.Now())
			if err != nil {
				cfg.Logger.Debug("rejected access token", "error", err)
				if claims != nil && cfg.OnFailure != nil {
					if hookErr := cfg.OnFailure(ctx, claims.UserID); hookErr != nil {
						cfg.Logger.Error("authentication failure hook failed", "error", hookErr)
					}
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired access token"})
			}
			c.SetRequest(c.Request().WithContext(auth.WithUserID(ctx, claims.UserID)))
			return next(c)
		}
	}
}
