// Package handler implements the HTTP endpoints.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wmsync/backend/internal/application/connect"
	"github.com/wmsync/backend/internal/application/health"
	"github.com/wmsync/backend/internal/application/ingest"
	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/breaker"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
	"github.com/wmsync/backend/internal/interfaces/http/dto"
	"github.com/wmsync/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID set by the middleware
func getRequestID(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDKey)
}

// getTenantID resolves the caller's tenant from the X-Tenant-ID header
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantIDStr := c.GetHeader("X-Tenant-ID")
	if tenantIDStr == "" {
		return uuid.Nil, errors.New("X-Tenant-ID header is required")
	}
	return uuid.Parse(tenantIDStr)
}

// Success sends a 200 response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for asynchronously executed work
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the given status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// Conflict sends a 409 response
func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

// InternalError sends a 500 response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError maps application errors to HTTP responses. Details of
// internal failures never leak to the caller.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, connect.ErrConnectionNotFound),
		errors.Is(err, health.ErrConnectionNotFound),
		errors.Is(err, ingest.ErrEventNotFound):
		h.NotFound(c, err.Error())
	case errors.Is(err, connection.ErrNotActive):
		h.Error(c, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState, err.Error())
	case errors.Is(err, connect.ErrMissingAuthCode),
		errors.Is(err, ingest.ErrMalformedDelivery):
		h.BadRequest(c, err.Error())
	case errors.Is(err, breaker.ErrOpen):
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUpstream, "upstream temporarily unavailable")
	default:
		var apiErr *trackstar.APIError
		if errors.As(err, &apiErr) {
			h.Error(c, http.StatusBadGateway, dto.ErrCodeUpstream, apiErr.Error())
			return
		}
		h.InternalError(c, "An unexpected error occurred")
	}
}
