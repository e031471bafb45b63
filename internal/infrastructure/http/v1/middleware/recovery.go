// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/pkg/logger"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR. A panic inside a
// ledger transaction has already rolled it back by the time it gets here.
// The stack goes to the log, never to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				ctx := c.Request.Context()
				logger.Error(ctx, "panic recovered",
					"panic", p,
					"route", c.FullPath(),
					"stack", string(debug.Stack()),
				)

				err := apperror.NewInternal(fmt.Errorf("panic: %v", p)).
					WithDetail("request_id", appctx.GetRequestID(ctx))
				_ = c.Error(err)
				c.Abort()
				writeError(c, err)
			}
		}()
		c.Next()
	}
}
