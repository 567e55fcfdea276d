package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// ErrorResponse represents a structured API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ValidateJSON middleware ensures request body is valid JSON for POST/PUT requests
func ValidateJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "POST" || c.Request.Method == "PUT" {
			contentType := c.GetHeader("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				c.JSON(http.StatusBadRequest, ErrorResponse{
					Error:   "invalid_content_type",
					Message: "Content-Type must be application/json",
				})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// PushBatchItem is one entry of a POST /batch/queue/push-batch body.
type PushBatchItem struct {
	PlaceID  int64            `json:"place_id"`
	Ops      models.UpdateOps `json:"ops"`
	Priority int              `json:"priority"`
}

// ValidatePushBatch validates the push-batch payload before the handler
// enqueues anything: every entry needs a positive place_id, at least one
// operation flag, and a priority of 0 or 1. The parsed batch is stored in
// the context so the handler does not re-read the body.
func ValidatePushBatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		var bodyBytes []byte
		if c.Request.Body != nil {
			var err error
			// Limit read to ~1MB to avoid abuse; handlers should enforce own limits as well
			bodyBytes, err = io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
			if err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{
					Error:   "invalid_body",
					Message: "Failed to read request body",
				})
				c.Abort()
				return
			}
		}
		// Restore body for downstream handlers regardless of outcome
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		if len(bodyBytes) == 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_body",
				Message: "Request body cannot be empty",
			})
			c.Abort()
			return
		}

		var batch []PushBatchItem
		if err := json.Unmarshal(bodyBytes, &batch); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_json",
				Message: "Malformed JSON in body",
			})
			c.Abort()
			return
		}

		if len(batch) == 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "batch must contain at least one entry",
			})
			c.Abort()
			return
		}

		for i, item := range batch {
			if err := validatePushItem(item); err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{
					Error:   "validation_error",
					Message: err.Error(),
					Details: map[string]string{"index": strconv.Itoa(i)},
				})
				c.Abort()
				return
			}
		}

		c.Set("pushbatch.parsed", batch)

		// Restore body again so handlers can bind
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		c.Next()
	}
}

func validatePushItem(item PushBatchItem) error {
	if item.PlaceID <= 0 {
		return &ValidationError{Field: "place_id", Message: "must be a positive id"}
	}
	if !item.Ops.Menus && !item.Ops.Images && !item.Ops.Reviews {
		return &ValidationError{Field: "ops", Message: "at least one of menus, images, reviews must be set"}
	}
	if item.Priority != 0 && item.Priority != 1 {
		return &ValidationError{Field: "priority", Message: "must be 0 or 1"}
	}
	return nil
}

// ValidationError represents a field validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
