package v1

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/query-router/internal/cachekey"
	"github.com/nulzo/query-router/pkg/api"
)

type CacheHandler struct {
	service QueryService
}

func NewCacheHandler(service QueryService) *CacheHandler {
	return &CacheHandler{service: service}
}

// Delete evicts a single cache entry by key.
//
// DELETE /v1/cache/:key
func (h *CacheHandler) Delete(c *gin.Context) {
	key := c.Param("key")
	if !strings.HasPrefix(key, cachekey.Prefix) {
		_ = c.Error(api.BadRequestError("cache key must start with " + cachekey.Prefix))
		return
	}

	if err := h.service.DeleteCache(c.Request.Context(), key); err != nil {
		_ = c.Error(api.UnavailableError("Cache backend unavailable", api.WithLog(err)))
		return
	}

	c.Status(http.StatusNoContent)
}
