package idempotency

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderIdempotencyKey is the HTTP header for idempotency key
	HeaderIdempotencyKey = "Idempotency-Key"

	// HeaderReplayed marks a response served from the store
	HeaderReplayed = "Idempotent-Replayed"

	// MaxBodySize is the maximum request body size for idempotency (1MB)
	MaxBodySize = 1 << 20
)

// ScopeFunc namespaces keys, typically by caller, so that two callers never
// share a stored response
type ScopeFunc func(c *gin.Context) string

// responseWriter wraps gin.ResponseWriter to capture response
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware replays stored responses for repeated Idempotency-Key requests.
// Requests without the header pass through. Store failures fail open.
func Middleware(store Store, ttl time.Duration, scope ScopeFunc, logger *zap.Logger) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		if err := ValidateKey(key); err != nil {
			abort(c, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", err.Error())
			return
		}

		bodyBytes, err := ReadBody(c.Request.Body, MaxBodySize)
		if err != nil {
			abort(c, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
			return
		}
		// Restore body for downstream handlers
		c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		storeKey := key
		if scope != nil {
			storeKey = scope(c) + ":" + key
		}
		requestHash := HashRequest(c.Request.Method, c.Request.URL.Path, bodyBytes)

		existing, err := store.Get(c.Request.Context(), storeKey)
		if err != nil {
			logger.Error("Failed to check idempotency key",
				zap.String("idempotency_key", key),
				zap.Error(err))
			c.Next()
			return
		}

		if existing != nil {
			if existing.RequestHash != requestHash {
				logger.Warn("Idempotency key reused with a different request",
					zap.String("idempotency_key", key),
					zap.String("path", c.Request.URL.Path))
				abort(c, http.StatusConflict, "IDEMPOTENCY_KEY_CONFLICT",
					"Idempotency key was already used with a different request")
				return
			}

			logger.Debug("Replaying stored response",
				zap.String("idempotency_key", key),
				zap.Int("status", existing.Status))
			contentType := existing.ContentType
			if contentType == "" {
				contentType = "application/json; charset=utf-8"
			}
			c.Header(HeaderReplayed, "true")
			c.Data(existing.Status, contentType, existing.Body)
			c.Abort()
			return
		}

		writer := &responseWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil)}
		c.Writer = writer

		c.Next()

		status := writer.Status()
		if !Cacheable(status) {
			return
		}

		record := &Record{
			Key:         storeKey,
			Method:      c.Request.Method,
			Path:        c.Request.URL.Path,
			RequestHash: requestHash,
			Status:      status,
			Body:        writer.body.Bytes(),
			ContentType: writer.Header().Get("Content-Type"),
			ExpiresAt:   time.Now().Add(ttl),
		}
		if err := store.Save(c.Request.Context(), record); err != nil {
			logger.Error("Failed to store idempotency key",
				zap.String("idempotency_key", key),
				zap.Error(err))
		}
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":       code,
		"message":    message,
		"request_id": c.GetString("request_id"),
	})
}
