package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-cochat/internal/app"
	"gopherai-cochat/internal/transport/http/response"
)

// statusFor maps the app error taxonomy onto an HTTP status and envelope
// code. Unknown errors become a 500 with the fallback message.
func statusFor(err error, fallback string) (int, int, string) {
	switch {
	case errors.Is(err, app.ErrMessageEmpty):
		return http.StatusBadRequest, response.CodeMessageEmpty, err.Error()
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest, response.CodeBadRequest, err.Error()
	case errors.Is(err, app.ErrUnauthorized):
		return http.StatusUnauthorized, response.CodeUnauthorized, err.Error()
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, response.CodeForbidden, err.Error()
	case errors.Is(err, app.ErrWorkspaceNotFound):
		return http.StatusNotFound, response.CodeWorkspaceNotFound, err.Error()
	case errors.Is(err, app.ErrMessageNotFound):
		return http.StatusNotFound, response.CodeMessageNotFound, err.Error()
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, response.CodeNotFound, err.Error()
	case errors.Is(err, app.ErrLLMConfig):
		return http.StatusServiceUnavailable, response.CodeServiceUnavailable, err.Error()
	case errors.Is(err, app.ErrCompletionTimeout):
		return http.StatusGatewayTimeout, response.CodeCompletionTimeout, err.Error()
	case errors.Is(err, app.ErrCompletionFailure):
		return http.StatusBadGateway, response.CodeCompletionFailed, "completion failed"
	default:
		return http.StatusInternalServerError, response.CodeInternalServer, fallback
	}
}

func writeError(c *gin.Context, err error, fallback string) {
	status, code, message := statusFor(err, fallback)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.Error(c, status, code, message)
}

func unauthorized(c *gin.Context) {
	response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
}
