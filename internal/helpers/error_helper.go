package helpers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/farellandr/enrollhub/internal/apperr"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func HTTPStatusText(code int) string {
	return http.StatusText(code)
}

func RespondWithError(c *gin.Context, statusCode int, customMessage string) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error:   HTTPStatusText(statusCode),
		Message: customMessage,
	})
}

// StatusFor maps the error taxonomy onto HTTP. Unknown errors are 500.
func StatusFor(err error) int {
	var (
		validation *apperr.ValidationError
		notFound   *apperr.NotFoundError
		authn      *apperr.AuthenticationError
		gateway    *apperr.GatewayError
		conflict   *apperr.ConflictError
		limited    *apperr.RateLimitedError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &authn):
		return http.StatusBadRequest
	case errors.As(err, &gateway):
		return http.StatusBadGateway
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &limited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithAppError writes err in the standard envelope. Gateway and
// internal errors are reported generically; the caller logs the detail.
func RespondWithAppError(c *gin.Context, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: HTTPStatusText(status)}

	var (
		validation *apperr.ValidationError
		limited    *apperr.RateLimitedError
	)
	switch {
	case errors.As(err, &validation):
		resp.Message = "Invalid input. Please check your fields."
		resp.Fields = validation.Fields
	case errors.As(err, &limited):
		resp.Message = "Too many requests. Please slow down."
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
	case status == http.StatusBadGateway:
		resp.Message = "Payment provider is unavailable. Please try again shortly."
	case status == http.StatusInternalServerError:
		resp.Message = "Something went wrong. Please try again."
	default:
		resp.Message = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}
