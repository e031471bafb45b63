package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"ledgercore/internal/core/appctx"
)

// HeaderActor names the person or till performing the request.
const HeaderActor = "X-Actor"

// Actor copies the X-Actor header into the request context, where the
// ledger reads it for every change event. Authentication happens upstream;
// requests without the header act as fallback.
//
// Usage in router:
//
//	api.Use(middleware.Actor("ops"))
func Actor(fallback string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		if actor == "" {
			actor = fallback
		}
		if actor != "" {
			c.Request = c.Request.WithContext(appctx.WithActor(c.Request.Context(), actor))
			c.Set(ctxKeyActor, actor)
		}
		c.Next()
	}
}
