package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wmsync/backend/internal/application/connect"
)

// LinkHandler implements the connection-establishment endpoints
type LinkHandler struct {
	BaseHandler
	connect *connect.Service
}

// NewLinkHandler creates a link handler
func NewLinkHandler(connectService *connect.Service) *LinkHandler {
	return &LinkHandler{connect: connectService}
}

// CreateTokenResponse is returned by POST /link/token
type CreateTokenResponse struct {
	LinkToken string     `json:"link_token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateToken handles POST /api/v1/link/token
func (h *LinkHandler) CreateToken(c *gin.Context) {
	resp, err := h.connect.CreateLinkToken(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, CreateTokenResponse{LinkToken: resp.LinkToken, ExpiresAt: resp.ExpiresAt})
}

// ExchangeRequest is the body of POST /link/exchange
type ExchangeRequest struct {
	AuthCode string `json:"auth_code" binding:"required"`
	BrandID  string `json:"brand_id" binding:"omitempty,uuid"`
}

// ConnectionResponse mirrors a persisted connection
type ConnectionResponse struct {
	ID               uuid.UUID  `json:"id"`
	Provider         string     `json:"provider"`
	ExternalID       string     `json:"external_id"`
	Status           string     `json:"status"`
	AvailableActions []string   `json:"available_actions"`
	LastSyncedAt     *time.Time `json:"last_synced_at"`
	LastWebhookAt    *time.Time `json:"last_webhook_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Exchange handles POST /api/v1/link/exchange
func (h *LinkHandler) Exchange(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	var req ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	brandID := uuid.Nil
	if req.BrandID != "" {
		brandID, err = uuid.Parse(req.BrandID)
		if err != nil {
			h.BadRequest(c, "brand_id must be a UUID")
			return
		}
	}

	conn, err := h.connect.Exchange(c.Request.Context(), tenantID, brandID, req.AuthCode)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, ConnectionResponse{
		ID:               conn.ID,
		Provider:         conn.Provider,
		ExternalID:       conn.ExternalID,
		Status:           conn.Status.String(),
		AvailableActions: conn.AvailableActions,
		LastSyncedAt:     conn.LastSyncedAt,
		LastWebhookAt:    conn.LastWebhookAt,
		CreatedAt:        conn.CreatedAt,
	})
}
