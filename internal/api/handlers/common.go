package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/crosspay/crosspay_service/internal/api/middleware"
	"github.com/crosspay/crosspay_service/internal/domain/entities"
)

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if reqID, exists := c.Get(middleware.RequestIDKey); exists {
		if id, ok := reqID.(string); ok {
			return id
		}
	}
	return ""
}

// getPrincipal returns the caller resolved by the authentication middleware.
// Routes mounted without it act as the anonymous principal.
func getPrincipal(c *gin.Context) entities.Principal {
	if v, exists := c.Get(middleware.PrincipalKey); exists {
		if p, ok := v.(entities.Principal); ok {
			return p
		}
	}
	return entities.AnonymousPrincipal
}

// parseIntQuery parses an optional integer query parameter
func parseIntQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
