package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridianhealth/hr-analytics/internal/cache"
	"github.com/meridianhealth/hr-analytics/internal/compute"
	httperr "github.com/meridianhealth/hr-analytics/internal/core/errors"
	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// Cache tier reported when a request forced a recomputation.
const tierComputed = "computed"

type definitionResponse struct {
	ID           string              `json:"id"`
	Category     string              `json:"category"`
	Name         string              `json:"name"`
	DisplayShape metric.DisplayShape `json:"displayShape"`
	Description  string              `json:"description,omitempty"`
}

type metricResponse struct {
	ID               string              `json:"id"`
	Category         string              `json:"category"`
	Name             string              `json:"name"`
	DisplayShape     metric.DisplayShape `json:"displayShape"`
	Period           string              `json:"period"`
	Data             json.RawMessage     `json:"data"`
	ComputedAt       time.Time           `json:"computed_at"`
	CacheTier        string              `json:"cache_tier"`
	StalenessSeconds float64             `json:"staleness_seconds"`
}

type historyPointResponse struct {
	Period     string          `json:"period"`
	Data       json.RawMessage `json:"data"`
	ComputedAt time.Time       `json:"computed_at"`
}

// HandleListMetrics handles GET /v1/metrics
func (s *Service) HandleListMetrics(c *gin.Context) {
	defs := s.registry.ListAll()
	c.JSON(http.StatusOK, gin.H{
		"categories": s.registry.Categories(),
		"metrics":    definitionList(defs),
	})
}

// HandleListCategory handles GET /v1/metrics/:category
func (s *Service) HandleListCategory(c *gin.Context) {
	category := c.Param("category")
	defs := s.registry.ListCategory(category)
	if len(defs) == 0 {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpMetricNotFoundError,
			Message:   "Unknown metric category",
			Details:   category,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"category": category,
		"metrics":  definitionList(defs),
	})
}

// HandleGetMetric handles GET /v1/metrics/:category/:name
// Query parameters: department, branch, date_from, date_to, refresh
func (s *Service) HandleGetMetric(c *gin.Context) {
	var uri struct {
		Category string `uri:"category" binding:"required"`
		Name     string `uri:"name" binding:"required"`
	}
	var query struct {
		Department string `form:"department"`
		Branch     string `form:"branch"`
		DateFrom   string `form:"date_from"`
		DateTo     string `form:"date_to"`
		Refresh    bool   `form:"refresh"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	def, err := s.registry.Get(uri.Category, uri.Name)
	if err != nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpMetricNotFoundError,
			Message:   "Unknown metric",
			Details:   uri.Category + "." + uri.Name,
		})
		return
	}

	filters := requestFilters(query.Department, query.Branch, query.DateFrom, query.DateTo)
	hit, err := s.resolveResult(c.Request.Context(), def, filters, query.Refresh)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpComputationError,
			Message:   "Failed to compute metric",
			Details:   err.Error(),
		})
		return
	}

	resp, err := buildMetricResponse(def, hit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to encode metric",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleMetricHistory handles GET /v1/metrics/:category/:name/history
// Query parameters: department, branch, limit
func (s *Service) HandleMetricHistory(c *gin.Context) {
	var uri struct {
		Category string `uri:"category" binding:"required"`
		Name     string `uri:"name" binding:"required"`
	}
	var query struct {
		Department string `form:"department"`
		Branch     string `form:"branch"`
		Limit      string `form:"limit"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	limit := 12
	if query.Limit != "" {
		parsed, err := strconv.Atoi(query.Limit)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidRequestError,
				Message:   "limit must be a positive integer",
				Details:   query.Limit,
			})
			return
		}
		limit = parsed
	}

	def, err := s.registry.Get(uri.Category, uri.Name)
	if err != nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpMetricNotFoundError,
			Message:   "Unknown metric",
			Details:   uri.Category + "." + uri.Name,
		})
		return
	}

	filters := requestFilters(query.Department, query.Branch, "", "")
	filtersHash := compute.HashFilters(filters.Accepted(def))
	points, err := s.cache.History(c.Request.Context(), def.ID(), filtersHash, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to load metric history",
			Details:   err.Error(),
		})
		return
	}

	out := make([]historyPointResponse, 0, len(points))
	for _, p := range points {
		data, err := json.Marshal(p.Result.Value)
		if err != nil {
			continue
		}
		out = append(out, historyPointResponse{
			Period:     p.Period,
			Data:       data,
			ComputedAt: p.Result.ComputedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"metric_id": def.ID(),
		"history":   out,
	})
}

// HandleInvalidateMetric handles DELETE /v1/metrics/:category/:name/cache
// Drops every ephemeral entry for the metric across periods and filter sets.
// Durable summaries are untouched; the next read falls through to them.
func (s *Service) HandleInvalidateMetric(c *gin.Context) {
	var uri struct {
		Category string `uri:"category" binding:"required"`
		Name     string `uri:"name" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	def, err := s.registry.Get(uri.Category, uri.Name)
	if err != nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpMetricNotFoundError,
			Message:   "Unknown metric",
			Details:   uri.Category + "." + uri.Name,
		})
		return
	}

	if err := s.cache.Invalidate(c.Request.Context(), def.ID()); err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to invalidate cache",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metric_id": def.ID(), "status": "invalidated"})
}

// resolveResult serves a metric from the cache, recomputing on miss, stale
// data past maxAge indulgence, or an explicit refresh.
func (s *Service) resolveResult(ctx context.Context, def *metric.Definition, filters compute.Filters, refresh bool) (*cache.Hit, error) {
	key := metric.Key{
		Category:    def.Category,
		Name:        def.Name,
		FiltersHash: compute.HashFilters(filters.Accepted(def)),
		Period:      s.nowFn().Format("2006-01"),
	}

	if !refresh {
		hit, err := s.cache.Read(ctx, key, s.maxAge)
		if err == nil && hit.Tier != cache.TierMiss {
			return hit, nil
		}
		if err != nil {
			slog.Warn("[API] Cache read failed, recomputing", "metric_id", key.MetricID(), "error", err)
		}
	}

	result, err := s.engine.ComputeDefinition(ctx, def, filters)
	if err != nil {
		return nil, err
	}
	if storeErr := s.cache.Store(ctx, result); storeErr != nil {
		var persistErr *cache.PersistenceError
		if errors.As(storeErr, &persistErr) {
			slog.Warn("[API] Failed to persist computed metric",
				"metric_id", key.MetricID(), "error", storeErr)
		} else {
			slog.Warn("[API] Failed to cache computed metric",
				"metric_id", key.MetricID(), "error", storeErr)
		}
	}
	return &cache.Hit{Result: result, Tier: cache.Tier(tierComputed)}, nil
}

func buildMetricResponse(def *metric.Definition, hit *cache.Hit) (*metricResponse, error) {
	data, err := json.Marshal(hit.Result.Value)
	if err != nil {
		return nil, err
	}
	return &metricResponse{
		ID:               def.ID(),
		Category:         def.Category,
		Name:             def.Name,
		DisplayShape:     hit.Result.Value.Shape(),
		Period:           hit.Result.Key.Period,
		Data:             data,
		ComputedAt:       hit.Result.ComputedAt,
		CacheTier:        string(hit.Tier),
		StalenessSeconds: hit.Age.Seconds(),
	}, nil
}

func definitionList(defs []*metric.Definition) []definitionResponse {
	out := make([]definitionResponse, 0, len(defs))
	for _, def := range defs {
		out = append(out, definitionResponse{
			ID:           def.ID(),
			Category:     def.Category,
			Name:         def.Name,
			DisplayShape: def.DisplayShape,
			Description:  def.Description,
		})
	}
	return out
}

func requestFilters(department, branch, dateFrom, dateTo string) compute.Filters {
	filters := compute.Filters{}
	if department != "" {
		filters[compute.FilterDepartment] = department
	}
	if branch != "" {
		filters[compute.FilterBranch] = branch
	}
	if dateFrom != "" {
		filters[compute.FilterDateFrom] = dateFrom
	}
	if dateTo != "" {
		filters[compute.FilterDateTo] = dateTo
	}
	return filters
}
