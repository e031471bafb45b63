package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
// Retryable errors (lock timeouts, deadlocks) carry a Retry-After hint.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		writeError(c, c.Errors.Last().Err)
	}
}

// writeError renders err unless the handler already wrote a response.
func writeError(c *gin.Context, err error) {
	if c.Writer.Written() {
		return
	}
	ctx := c.Request.Context()

	appErr, ok := apperror.AsAppError(err)
	if !ok {
		logger.Error(ctx, "unhandled error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    apperror.CodeInternal,
			"message": "Internal server error",
			"details": map[string]any{"request_id": appctx.GetRequestID(ctx)},
		})
		return
	}

	if appErr.Err != nil {
		logger.Error(ctx, "request error",
			"code", appErr.Code,
			"cause", appErr.Err,
		)
	}

	body := gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	}
	if appErr.Retryable {
		body["retryable"] = true
		c.Header("Retry-After", "1")
	}
	c.JSON(appErr.HTTPStatus, body)
}
