package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/query-router/internal/buildinfo"
)

type HealthHandler struct {
	service QueryService
}

func NewHealthHandler(service QueryService) *HealthHandler {
	return &HealthHandler{service: service}
}

// Health reports liveness and how many providers can serve traffic.
//
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	available := 0
	for _, p := range h.service.Providers() {
		if p.Available {
			available++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              "ok",
		"version":             buildinfo.Version,
		"providers_available": available,
	})
}
