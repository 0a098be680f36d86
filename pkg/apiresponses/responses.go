// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package apiresponses

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Kalypss/PortFolio/pkg/denial"
)

// genericAuthMessage replaces authentication failure details in production.
const genericAuthMessage = "Authentication failed"

// APIError represents a standardized error response.
// This ensures consistent error message formatting across all endpoints,
// including the denials written by the gateway.
type APIError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func newAPIError(category, message, code string) APIError {
	return APIError{
		Error:     category,
		Message:   message,
		Type:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// DenialBody builds the response body for d. In production the message of
// authentication failures is replaced by a generic one so that clients
// cannot tell a revoked token from a forged one.
func DenialBody(d *denial.Error, production bool) APIError {
	body := newAPIError(denial.Category(d.Code), d.Message, string(d.Code))
	if production && denial.IsAuthentication(d.Code) {
		body.Message = genericAuthMessage
	}
	if d.Code == denial.CodeRateLimitExceeded {
		body.RetryAfter = d.RetryAfterSeconds()
	}
	return body
}

// AbortWithDenial writes err as a denial response and aborts the handler
// chain. Errors that are not denials are reported as internal errors.
func AbortWithDenial(c *gin.Context, err error, production bool) {
	d := denial.From(err)
	body := DenialBody(d, production)
	if body.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	c.AbortWithStatusJSON(d.Status(), body)
}

// RespondNotFound sends a 404 Not Found response with a standardized message.
// Use this when a requested resource does not exist.
func RespondNotFound(c *gin.Context, resourceType, resourceName string) {
	c.JSON(http.StatusNotFound, newAPIError("Not found",
		fmt.Sprintf("%s not found: %s", resourceType, resourceName), "NOT_FOUND"))
}

// RespondNotFoundSimple sends a 404 Not Found response with a simple message.
func RespondNotFoundSimple(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, newAPIError("Not found", message, "NOT_FOUND"))
}

// RespondBadRequest sends a 400 Bad Request response.
// Use this for client errors like malformed JSON or invalid parameters.
func RespondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, newAPIError("Invalid request", message, "BAD_REQUEST"))
}

// RespondInternalError sends a 500 Internal Server Error response.
// It logs the error with full details but returns a sanitized message to the client.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw(fmt.Sprintf("Failed to %s", operation), "error", err)
	}
	c.JSON(http.StatusInternalServerError, newAPIError("Internal error",
		fmt.Sprintf("failed to %s", operation), string(denial.CodeInternal)))
}

// RespondBadGateway sends a 502 Bad Gateway response.
// Useful when proxying upstream services.
func RespondBadGateway(c *gin.Context, message string) {
	if message == "" {
		message = "bad gateway"
	}
	c.JSON(http.StatusBadGateway, newAPIError("Bad gateway", message, "BAD_GATEWAY"))
}

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondNoContent sends a 204 No Content response.
// Use this for successful operations that don't return data.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
