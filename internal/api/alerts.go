package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianhealth/hr-analytics/internal/alert"
	httperr "github.com/meridianhealth/hr-analytics/internal/core/errors"
)

type alertRuleRequest struct {
	Name      string          `json:"name" binding:"required"`
	MetricID  string          `json:"metric_id" binding:"required"`
	Operator  string          `json:"operator" binding:"required"`
	Threshold decimal.Decimal `json:"threshold"`
	Severity  string          `json:"severity" binding:"required"`
	IsActive  *bool           `json:"is_active"`
}

func (r alertRuleRequest) toRule(id string) alert.Rule {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return alert.Rule{
		ID:        id,
		Name:      r.Name,
		MetricID:  r.MetricID,
		Operator:  r.Operator,
		Threshold: r.Threshold,
		Severity:  r.Severity,
		IsActive:  active,
	}
}

// HandleListAlerts handles GET /v1/alerts
func (s *Service) HandleListAlerts(c *gin.Context) {
	rules, err := s.rules.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to list alert rules",
			Details:   err.Error(),
		})
		return
	}
	if rules == nil {
		rules = []alert.Rule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// HandleCreateAlert handles POST /v1/alerts
func (s *Service) HandleCreateAlert(c *gin.Context) {
	rule, ok := s.bindRule(c, uuid.New().String())
	if !ok {
		return
	}
	rule.CreatedAt = s.nowFn()

	if err := s.rules.Create(c.Request.Context(), &rule); err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to create alert rule",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// HandleUpdateAlert handles PUT /v1/alerts/:id
func (s *Service) HandleUpdateAlert(c *gin.Context) {
	rule, ok := s.bindRule(c, c.Param("id"))
	if !ok {
		return
	}

	if err := s.rules.Update(c.Request.Context(), &rule); err != nil {
		writeRuleError(c, err, "Failed to update alert rule")
		return
	}
	c.JSON(http.StatusOK, rule)
}

// HandleDeleteAlert handles DELETE /v1/alerts/:id
func (s *Service) HandleDeleteAlert(c *gin.Context) {
	if err := s.rules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeRuleError(c, err, "Failed to delete alert rule")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// HandleProcessAlerts handles POST /v1/alerts/process
func (s *Service) HandleProcessAlerts(c *gin.Context) {
	outcomes, err := s.alerts.ProcessAlerts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Alert sweep failed",
			Details:   err.Error(),
		})
		return
	}

	results := make([]gin.H, 0, len(outcomes))
	fired := 0
	for _, o := range outcomes {
		entry := gin.H{
			"rule_id": o.RuleID,
			"fired":   o.Fired,
			"value":   o.Value,
		}
		if o.Err != nil {
			entry["error"] = o.Err.Error()
		}
		if o.Fired {
			fired++
		}
		results = append(results, entry)
	}
	c.JSON(http.StatusOK, gin.H{
		"evaluated": len(outcomes),
		"fired":     fired,
		"outcomes":  results,
	})
}

// bindRule parses and validates a rule body, checking the target metric
// exists before the rule is accepted.
func (s *Service) bindRule(c *gin.Context, id string) (alert.Rule, bool) {
	var req alertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid alert rule body",
			Details:   err.Error(),
		})
		return alert.Rule{}, false
	}

	rule := req.toRule(id)
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid alert rule",
			Details:   err.Error(),
		})
		return alert.Rule{}, false
	}

	category, name, ok := splitMetricID(rule.MetricID)
	if !ok {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "metric_id must be category.name",
			Details:   rule.MetricID,
		})
		return alert.Rule{}, false
	}
	if _, err := s.registry.Get(category, name); err != nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpMetricNotFoundError,
			Message:   "Alert rule targets an unknown metric",
			Details:   rule.MetricID,
		})
		return alert.Rule{}, false
	}
	return rule, true
}

func writeRuleError(c *gin.Context, err error, message string) {
	if errors.Is(err, alert.ErrRuleNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpAlertNotFoundError,
			Message:   "Alert rule not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   message,
		Details:   err.Error(),
	})
}
