package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/meridianhealth/hr-analytics/internal/automation"
	httperr "github.com/meridianhealth/hr-analytics/internal/core/errors"
)

const defaultLogLimit = 50

// HandleSweep handles POST /v1/automation/sweep
// A sweep already in flight yields 409; the caller retries later.
func (s *Service) HandleSweep(c *gin.Context) {
	outcome, err := s.sweeper.ProcessBatch(c.Request.Context())
	if err != nil {
		if errors.Is(err, automation.ErrSweepInProgress) {
			c.JSON(http.StatusConflict, httperr.ErrorResponse{
				ErrorType: httperr.HttpSweepRunningError,
				Message:   "A sweep is already in progress",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Sweep failed",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      outcome.Status,
		"total":       outcome.Total,
		"recomputed":  outcome.Recomputed,
		"reused":      outcome.Reused,
		"failed":      outcome.Failed,
		"duration_ms": outcome.DurationMs,
	})
}

// HandleCalcLog handles GET /v1/automation/log?limit=
func (s *Service) HandleCalcLog(c *gin.Context) {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidRequestError,
				Message:   "limit must be a positive integer",
				Details:   raw,
			})
			return
		}
		limit = parsed
	}

	entries, err := s.calcLog.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to read calculation log",
			Details:   err.Error(),
		})
		return
	}
	if entries == nil {
		entries = []automation.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
