package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/application/health"
	"github.com/wmsync/backend/internal/application/syncer"
	"github.com/wmsync/backend/internal/infrastructure/breaker"
	"github.com/wmsync/backend/internal/infrastructure/persistence"
	"github.com/wmsync/backend/internal/infrastructure/scheduler"
	"github.com/wmsync/backend/internal/interfaces/http/dto"
)

// OpsHandler implements the operational endpoints: service health, per
// connection health, breaker inspection, manual sync, and webhook replay
type OpsHandler struct {
	BaseHandler
	health   *health.Service
	syncer   *syncer.Service
	breakers *breaker.Manager
	db       *persistence.Database
	logger   *zap.Logger
}

// NewOpsHandler creates an ops handler
func NewOpsHandler(
	healthService *health.Service,
	syncService *syncer.Service,
	breakers *breaker.Manager,
	db *persistence.Database,
	logger *zap.Logger,
) *OpsHandler {
	return &OpsHandler{
		health:   healthService,
		syncer:   syncService,
		breakers: breakers,
		db:       db,
		logger:   logger.Named("ops_handler"),
	}
}

// Health handles GET /health
func (h *OpsHandler) Health(c *gin.Context) {
	dbStatus := "ok"
	status := http.StatusOK
	if err := h.db.Ping(); err != nil {
		dbStatus = "down"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":    dbStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"components": gin.H{
			"database": dbStatus,
		},
	})
}

// ConnectionHealth handles GET /api/v1/connections/:id/health
func (h *OpsHandler) ConnectionHealth(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "connection id must be a UUID")
		return
	}

	report, err := h.health.CheckConnection(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// Breakers handles GET /api/v1/breakers
func (h *OpsHandler) Breakers(c *gin.Context) {
	h.Success(c, h.breakers.Stats())
}

// ResetBreakers handles POST /api/v1/breakers/reset
func (h *OpsHandler) ResetBreakers(c *gin.Context) {
	count := h.breakers.ResetAll()
	h.logger.Info("Breakers reset by operator",
		zap.Int("count", count),
		zap.String("remote_addr", c.ClientIP()),
	)
	h.Success(c, gin.H{"reset": count})
}

// TriggerSync handles POST /api/v1/connections/:id/sync
func (h *OpsHandler) TriggerSync(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "connection id must be a UUID")
		return
	}

	if err := h.syncer.TriggerSync(tenantID, connectionID); err != nil {
		if errors.Is(err, scheduler.ErrDuplicateTask) {
			h.Error(c, http.StatusConflict, dto.ErrCodeConflict, "a sync pass is already outstanding for this tenant")
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, gin.H{"connection_id": connectionID})
}

// ReplayRequest is the body of POST /api/v1/webhooks/replay
type ReplayRequest struct {
	Since     *time.Time `json:"since"`
	EventType *string    `json:"event_type" binding:"omitempty,event_type"`
	Limit     int        `json:"limit" binding:"omitempty,min=1,max=1000"`
	DryRun    bool       `json:"dry_run"`
}

// ReplayWebhooks handles POST /api/v1/webhooks/replay
func (h *OpsHandler) ReplayWebhooks(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	report, err := h.health.ReplayFailed(c.Request.Context(), tenantID, health.ReplayOptions{
		Since:     req.Since,
		EventType: req.EventType,
		Limit:     req.Limit,
		DryRun:    req.DryRun,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
