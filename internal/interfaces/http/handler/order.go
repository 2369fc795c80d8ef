package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wmsync/backend/internal/application/connect"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
)

// OrderHandler pushes order mutations out through the aggregator
type OrderHandler struct {
	BaseHandler
	connect *connect.Service
}

// NewOrderHandler creates an order handler
func NewOrderHandler(connectService *connect.Service) *OrderHandler {
	return &OrderHandler{connect: connectService}
}

// orderScope resolves the tenant, connection and order identifiers shared
// by all mutation endpoints
func (h *OrderHandler) orderScope(c *gin.Context) (tenantID, connectionID uuid.UUID, orderID string, ok bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, "", false
	}
	connectionID, err = uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "connection id must be a UUID")
		return uuid.Nil, uuid.Nil, "", false
	}
	orderID = c.Param("orderId")
	if orderID == "" {
		h.BadRequest(c, "order id is required")
		return uuid.Nil, uuid.Nil, "", false
	}
	return tenantID, connectionID, orderID, true
}

// UpdateOrderRequest is the body of PUT /connections/:id/orders/:orderId
type UpdateOrderRequest struct {
	Status           *string `json:"status"`
	ShippingMethod   *string `json:"shipping_method"`
	RequiredShipDate *string `json:"required_ship_date"`
}

// Update handles PUT /api/v1/connections/:id/orders/:orderId
func (h *OrderHandler) Update(c *gin.Context) {
	tenantID, connectionID, orderID, ok := h.orderScope(c)
	if !ok {
		return
	}

	var req UpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	err := h.connect.UpdateOrder(c.Request.Context(), tenantID, connectionID, orderID, trackstar.OrderUpdate{
		Status:           req.Status,
		ShippingMethod:   req.ShippingMethod,
		RequiredShipDate: req.RequiredShipDate,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"order_id": orderID})
}

// Cancel handles POST /api/v1/connections/:id/orders/:orderId/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	tenantID, connectionID, orderID, ok := h.orderScope(c)
	if !ok {
		return
	}

	if err := h.connect.CancelOrder(c.Request.Context(), tenantID, connectionID, orderID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"order_id": orderID})
}

// AddNoteRequest is the body of POST /connections/:id/orders/:orderId/notes
type AddNoteRequest struct {
	Note string `json:"note" binding:"required"`
}

// AddNote handles POST /api/v1/connections/:id/orders/:orderId/notes
func (h *OrderHandler) AddNote(c *gin.Context) {
	tenantID, connectionID, orderID, ok := h.orderScope(c)
	if !ok {
		return
	}

	var req AddNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	if err := h.connect.AddOrderNote(c.Request.Context(), tenantID, connectionID, orderID, req.Note); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"order_id": orderID})
}
