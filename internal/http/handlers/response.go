// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints,
// including structured error envelopes, consistent JSON serialization, and
// the mapping from service errors to HTTP statuses. Customers never see the
// wrapped internal cause of a 5xx: the envelope carries a generic message
// and the detail goes to the request-scoped log.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "order not found"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/keyshop-fulfillment/internal/flags"
	"github.com/tbourn/keyshop-fulfillment/internal/http/middleware"
	"github.com/tbourn/keyshop-fulfillment/internal/services"
	"github.com/tbourn/keyshop-fulfillment/internal/utils"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(p utils.Page, total int64) Pagination {
	pages := p.TotalPages(total)
	return Pagination{
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    p.Page < pages,
	}
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router fallbacks and
// middleware.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error onto the envelope. Unknown errors are logged
// with their cause and reported as a generic 500.
func failErr(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Msg("request failed")
		msg := "internal error"
		if status == http.StatusServiceUnavailable {
			msg = "temporarily unavailable"
		}
		fail(c, status, code, msg)
		return
	}
	fail(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrSignatureInvalid):
		return http.StatusUnauthorized, ErrCodeInvalidSignature
	case errors.Is(err, services.ErrUnparseablePayload):
		return http.StatusBadRequest, ErrCodeUnparseable
	case errors.Is(err, services.ErrUnknownSource):
		return http.StatusNotFound, ErrCodeUnknownSource
	case errors.Is(err, services.ErrFeatureDisabled):
		return http.StatusServiceUnavailable, ErrCodeFeatureDisabled
	case errors.Is(err, services.ErrReplayNotAllowed):
		return http.StatusConflict, ErrCodeReplayNotAllowed
	case errors.Is(err, services.ErrWebhookNotFound),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrProductNotFound),
		errors.Is(err, services.ErrRuleNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrInvalidOrder):
		return http.StatusBadRequest, ErrCodeInvalidOrder
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict, ErrCodeInvalidTransition
	case errors.Is(err, services.ErrOrderConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, services.ErrOrderNotFulfilled):
		return http.StatusConflict, ErrCodeNotFulfilled
	case errors.Is(err, services.ErrInvalidRule):
		return http.StatusBadRequest, ErrCodeInvalidRule
	case errors.Is(err, services.ErrRuleExists):
		return http.StatusConflict, ErrCodeRuleExists
	case errors.Is(err, services.ErrInvalidProduct):
		return http.StatusBadRequest, ErrCodeInvalidProduct
	case errors.Is(err, flags.ErrUnknownFlag):
		return http.StatusNotFound, ErrCodeUnknownFlag
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
