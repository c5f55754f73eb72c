package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meridianhealth/hr-analytics/internal/compute"
	httperr "github.com/meridianhealth/hr-analytics/internal/core/errors"
	"github.com/meridianhealth/hr-analytics/internal/export"
	"github.com/meridianhealth/hr-analytics/internal/metric"
)

type exportRequest struct {
	Category string            `json:"category"`
	Names    []string          `json:"names"`
	Filters  map[string]string `json:"filters"`
	Format   string            `json:"format" binding:"required"`
}

type pushRequest struct {
	Target   string            `json:"target" binding:"required"`
	Category string            `json:"category"`
	Filters  map[string]string `json:"filters"`
}

// HandleExport handles POST /v1/export
func (s *Service) HandleExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid export request",
			Details:   err.Error(),
		})
		return
	}

	set, err := s.assembleSet(c.Request.Context(), req.Category, req.Names, req.Filters)
	if err != nil {
		writeAssembleError(c, err)
		return
	}

	artifact, err := s.exporter.Export(c.Request.Context(), set, export.Format(req.Format))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpExportError,
			Message:   "Failed to render export",
			Details:   err.Error(),
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

// HandlePush handles POST /v1/push
func (s *Service) HandlePush(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid push request",
			Details:   err.Error(),
		})
		return
	}

	set, err := s.assembleSet(c.Request.Context(), req.Category, nil, req.Filters)
	if err != nil {
		writeAssembleError(c, err)
		return
	}

	if err := s.pusher.Push(c.Request.Context(), set, req.Target); err != nil {
		var deliveryErr *export.SinkDeliveryError
		if errors.As(err, &deliveryErr) {
			c.JSON(http.StatusBadGateway, httperr.ErrorResponse{
				ErrorType: httperr.HttpSinkDeliveryError,
				Message:   "Sink rejected the push",
				Details:   err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Push failed",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "delivered",
		"target":  req.Target,
		"metrics": len(set.Entries),
	})
}

// assembleSet computes (or serves from cache) every selected metric. names
// narrows within a category; an empty selection exports the full catalog.
func (s *Service) assembleSet(ctx context.Context, category string, names []string, rawFilters map[string]string) (*export.MetricSet, error) {
	var defs []*metric.Definition
	switch {
	case category != "" && len(names) > 0:
		for _, name := range names {
			def, err := s.registry.Get(category, name)
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
		}
	case category != "":
		defs = s.registry.ListCategory(category)
		if len(defs) == 0 {
			return nil, metric.ErrDefinitionNotFound
		}
	default:
		defs = s.registry.ListAll()
	}

	filters := requestFilters(
		rawFilters[compute.FilterDepartment],
		rawFilters[compute.FilterBranch],
		rawFilters["date_from"],
		rawFilters["date_to"],
	)

	set := &export.MetricSet{
		GeneratedAt: s.nowFn(),
		Filters:     filters,
	}
	for _, def := range defs {
		hit, err := s.resolveResult(ctx, def, filters, false)
		if err != nil {
			return nil, err
		}
		set.Entries = append(set.Entries, export.Entry{Definition: def, Result: hit.Result})
	}
	return set, nil
}

func writeAssembleError(c *gin.Context, err error) {
	if errors.Is(err, metric.ErrDefinitionNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpMetricNotFoundError,
			Message:   "Unknown metric selection",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpComputationError,
		Message:   "Failed to compute metric set",
		Details:   err.Error(),
	})
}
