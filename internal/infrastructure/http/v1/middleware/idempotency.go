package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/idempotency"
	"ledgercore/pkg/logger"
)

const (
	HeaderIdempotencyKey     = "X-Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

const maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

// responseRecorder copies the response body for storage.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency middleware protects against duplicate requests.
// Only successful responses are stored; a failed request releases its key
// so the client can retry it.
func Idempotency(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to mutating methods
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		// Hash request body
		limited := io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1)
		body, _ := io.ReadAll(limited)
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)

		ctx := c.Request.Context()
		req := idempotency.Request{
			Key:         key,
			Actor:       appctx.GetActor(ctx),
			Operation:   c.Request.Method + " " + c.FullPath(),
			RequestHash: hex.EncodeToString(hash[:]),
		}

		replay, err := store.Acquire(ctx, req)
		if err != nil {
			if _, ok := apperror.AsAppError(err); !ok {
				err = apperror.NewInternal(err).WithDetail("component", "idempotency")
			}
			_ = c.Error(err)
			c.Abort()
			return
		}

		if replay != nil {
			c.Header(HeaderIdempotentReplayed, "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		rec := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()
		c.Writer = rec.ResponseWriter

		status := rec.Status()
		if len(c.Errors) > 0 || status < 200 || status >= 300 {
			if err := store.Release(ctx, key); err != nil {
				logger.Warn(ctx, "failed to release idempotency key", "key", key, "error", err)
			}
			return
		}

		contentType := rec.Header().Get("Content-Type")
		if err := store.Complete(ctx, key, idempotency.Replay{StatusCode: status, ContentType: contentType, Body: rec.body.Bytes()}); err != nil {
			logger.Warn(ctx, "failed to store idempotent response", "key", key, "error", err)
		}
	}
}
