package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidRequestError = "invalid_request"
	HttpMetricNotFoundError = "metric_not_found"
	HttpComputationError    = "computation_failed"
	HttpExportError         = "export_failed"
	HttpSweepRunningError   = "already_running"
	HttpSinkDeliveryError   = "sink_delivery_failed"
	HttpAlertNotFoundError  = "alert_rule_not_found"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
