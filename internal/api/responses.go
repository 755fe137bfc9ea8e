package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stackwatch/sentinel/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ErrorResponse sends an error response, mapping typed errors to status codes
func ErrorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	apiErr := &APIError{
		Code:    errors.GetCode(err),
		Message: err.Error(),
	}

	var appErr *errors.AppError
	if errors.AsAppError(err, &appErr) {
		apiErr.Message = appErr.Message
		apiErr.Details = appErr.Details

		switch appErr.Type {
		case errors.ErrorTypeValidation:
			status = http.StatusBadRequest
		case errors.ErrorTypeNotFound:
			status = http.StatusNotFound
		case errors.ErrorTypeTimeout:
			status = http.StatusGatewayTimeout
		case errors.ErrorTypeCircuitOpen, errors.ErrorTypeTransport:
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, APIResponse{
		Success:   false,
		Error:     apiErr,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

func requestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
