package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/query-router/internal/analytics"
	"github.com/nulzo/query-router/pkg/api"
)

type AnalyticsHandler struct {
	service analytics.Service // nil when analytics are disabled
	queries QueryService
}

func NewAnalyticsHandler(service analytics.Service, queries QueryService) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
		queries: queries,
	}
}

// GetUsage returns daily query aggregates plus live cache counters.
//
// GET /v1/stats?days=7
func (h *AnalyticsHandler) GetUsage(c *gin.Context) {
	daysStr := c.DefaultQuery("days", "7")
	days, err := strconv.Atoi(daysStr)
	if err != nil || days <= 0 || days > 365 {
		_ = c.Error(api.BadRequestError("Invalid 'days' parameter, expected 1-365"))
		return
	}

	data := []api.DailyStats{}
	if h.service != nil {
		stats, err := h.service.GetUsageOverview(c.Request.Context(), days)
		if err != nil {
			_ = c.Error(api.InternalError("Failed to fetch analytics", err))
			return
		}
		for _, s := range stats {
			data = append(data, api.DailyStats{
				Day:        s.Day,
				Requests:   s.Requests,
				CacheHits:  s.CacheHits,
				Errors:     s.Errors,
				AvgLatency: s.AvgLatencyMS,
			})
		}
	}

	cs := h.queries.CacheStats()
	c.JSON(http.StatusOK, api.StatsResponse{
		Object: "list",
		Since:  time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour),
		Data:   data,
		Cache: api.CacheStats{
			Hits:     cs.Hits,
			Misses:   cs.Misses,
			Failures: cs.Failures,
		},
	})
}
