package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/query-router/internal/server/middleware"
	"github.com/nulzo/query-router/internal/server/validator"
	"github.com/nulzo/query-router/pkg/api"
)

type QueryHandler struct {
	service   QueryService
	validator *validator.Validator
}

func NewQueryHandler(service QueryService, v *validator.Validator) *QueryHandler {
	return &QueryHandler{
		service:   service,
		validator: v,
	}
}

// Query routes a query to a provider, answering from cache when possible.
//
// POST /v1/query
func (h *QueryHandler) Query(c *gin.Context) {
	var req api.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// returns RFC compliant error
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	resp, err := h.service.HandleQuery(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(problemFor(err))
		return
	}

	c.Set(middleware.KeyProvider, resp.Provider)
	c.Set(middleware.KeyModel, resp.Model)
	c.Set(middleware.KeyCached, resp.Cached)

	c.JSON(http.StatusOK, resp)
}

// Route reports where a query would go without calling any provider.
//
// POST /v1/route
func (h *QueryHandler) Route(c *gin.Context) {
	var req api.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	c.JSON(http.StatusOK, h.service.Explain(&req))
}
