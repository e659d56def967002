package v1

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/dayflow/internal/errors"
)

// requestError is a malformed or invalid request body.
type requestError struct {
	message string
}

func (e *requestError) Error() string {
	return e.message
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFromError maps an error to its HTTP status. Unknown errors are 500.
func statusFromError(err error) int {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest
	}
	switch apperrors.GetCodeFromError(err, "") {
	case apperrors.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeRemoteUnavailable:
		return http.StatusBadGateway
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err without leaking internal detail for 5xx answers.
func (s *APIV1Service) respondError(c echo.Context, err error) error {
	status := statusFromError(err)
	resp := ErrorResponse{Code: http.StatusText(status)}

	var reqErr *requestError
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &reqErr):
		resp.Code = string(apperrors.ErrCodeInvalidArgument)
		resp.Message = reqErr.message
	case errors.As(err, &appErr) && status < http.StatusInternalServerError:
		resp.Code = string(appErr.Code)
		resp.Message = appErr.Message
	default:
		resp.Message = "an unexpected error occurred"
	}

	if status >= http.StatusInternalServerError {
		requestLogger(c.Request().Context(), s.logger).Error("request failed", "status", status, "error", err)
	}
	return c.JSON(status, resp)
}

// validationMessage turns validator errors into a short field-level message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "validation error"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("invalid %s: %s", fe.Field(), tagMessage(fe)))
	}
	return strings.Join(msgs, "; ")
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "required field"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "datetime":
		return "must be formatted as " + fe.Param()
	default:
		return "validation failed on " + fe.Tag()
	}
}
