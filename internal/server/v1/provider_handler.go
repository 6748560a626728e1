package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/query-router/pkg/api"
)

type ProviderHandler struct {
	service QueryService
}

func NewProviderHandler(service QueryService) *ProviderHandler {
	return &ProviderHandler{service: service}
}

// List returns every registered provider with its availability.
//
// GET /v1/providers
func (h *ProviderHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, api.ProviderList{
		Object: "list",
		Data:   h.service.Providers(),
	})
}
