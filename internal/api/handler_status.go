package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "synchronizer is not running"})
		return
	}
	c.JSON(http.StatusOK, h.status.Status())
}

// Healthz handles GET /healthz.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
