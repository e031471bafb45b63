package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledgercore/internal/core/appctx"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// Keys under which the middleware chain shares request values on gin.Context.
const (
	ctxKeyRequestID = "ledgercore.request_id"
	ctxKeyTraceID   = "ledgercore.trace_id"
	ctxKeyActor     = "ledgercore.actor"
)

var tracer = otel.Tracer("ledgercore/http")

// Trace opens a server span per request and puts its ids into appctx, where
// the logger and the ledger's own spans pick them up. Without a configured
// trace provider the ids come from X-Trace-ID or are generated.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("ledgercore.request_id", requestID),
			))
		defer span.End()

		tc := &appctx.TraceContext{RequestID: requestID}
		if sc := span.SpanContext(); sc.IsValid() {
			tc.TraceID = sc.TraceID().String()
			tc.SpanID = sc.SpanID().String()
		} else {
			tc.TraceID = c.GetHeader(HeaderTraceID)
			if tc.TraceID == "" {
				tc.TraceID = hexID()
			}
			tc.SpanID = hexID()[:16]
		}

		c.Request = c.Request.WithContext(appctx.WithTrace(ctx, tc))
		c.Set(ctxKeyTraceID, tc.TraceID)
		c.Set(ctxKeyRequestID, requestID)
		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, tc.TraceID)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
