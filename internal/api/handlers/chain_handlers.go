package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
)

// ChainHandlers lists supported chains
type ChainHandlers struct {
	registry *chains.Registry
}

func NewChainHandlers(registry *chains.Registry) *ChainHandlers {
	return &ChainHandlers{registry: registry}
}

// ListChains handles GET /api/v1/chains
func (h *ChainHandlers) ListChains(c *gin.Context) {
	all := h.registry.All()
	c.JSON(http.StatusOK, gin.H{
		"chains": all,
		"count":  len(all),
	})
}
