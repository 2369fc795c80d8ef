package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/application/ingest"
)

// SignatureHeader carries the HMAC digest on inbound deliveries.
const SignatureHeader = "x-trackstar-signature"

// WebhookHandler receives aggregator deliveries
type WebhookHandler struct {
	BaseHandler
	pipeline *ingest.Service
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(pipeline *ingest.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		pipeline: pipeline,
		logger:   logger.Named("webhook_handler"),
	}
}

// Receive handles POST /webhooks/trackstar. The signature is verified over
// the raw body before any parsing.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.BadRequest(c, "failed to read request body")
		return
	}

	if err := h.pipeline.VerifySignature(body, c.GetHeader(SignatureHeader)); err != nil {
		h.logger.Warn("Rejected delivery with bad signature",
			zap.String("remote_addr", c.ClientIP()),
			zap.Error(err),
		)
		h.Unauthorized(c, "signature verification failed")
		return
	}

	result, err := h.pipeline.Process(c.Request.Context(), body)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrConnectionNotFound):
			// Terminal: a 404 tells the sender to stop redelivering.
			h.NotFound(c, "unknown connection")
		case errors.Is(err, ingest.ErrMalformedDelivery):
			h.BadRequest(c, err.Error())
		default:
			h.logger.Error("Delivery processing failed", zap.Error(err))
			h.InternalError(c, "delivery processing failed")
		}
		return
	}

	h.Success(c, gin.H{
		"event_id":  result.EventID,
		"duplicate": result.Duplicate,
	})
}
