// Package ingest is the push-based half of the engine: it verifies,
// records, and applies webhook deliveries from the aggregator.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/application/reconcile"
	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/webhook"
	"github.com/wmsync/backend/internal/infrastructure/telemetry"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
)

var (
	ErrMalformedDelivery  = errors.New("ingest: malformed delivery body")
	ErrConnectionNotFound = errors.New("ingest: delivery references an unknown connection")
	ErrEventNotFound      = errors.New("ingest: webhook event not found")
)

// Source names the delivery origin recorded on every event.
const Source = "trackstar"

// Delivery is one raw inbound webhook request
type Delivery struct {
	EventID         string          `json:"event_id"`
	EventType       string          `json:"event_type"`
	ConnectionID    string          `json:"connection_id"`
	IntegrationName string          `json:"integration_name"`
	Data            json.RawMessage `json:"data"`
	// PreviousAttributes is present on update events; stored, not applied
	PreviousAttributes json.RawMessage `json:"previous_attributes,omitempty"`
}

// Result reports the outcome of processing one delivery
type Result struct {
	EventID   string
	EventType string
	// Duplicate is true when the delivery was short-circuited because the
	// event ID or content key was already processed
	Duplicate bool
}

// Service is the webhook processing pipeline
type Service struct {
	events      webhook.Repository
	connections connection.Repository
	engine      reconcile.Engine
	idempotency shared.IdempotencyStore
	idemCfg     shared.IdempotencyConfig
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger

	webhookSecret   string
	signatureBypass bool
}

// NewService creates the webhook pipeline
func NewService(
	events webhook.Repository,
	connections connection.Repository,
	engine reconcile.Engine,
	idempotency shared.IdempotencyStore,
	webhookSecret string,
	signatureBypass bool,
	logger *zap.Logger,
) *Service {
	return &Service{
		events:          events,
		connections:     connections,
		engine:          engine,
		idempotency:     idempotency,
		idemCfg:         shared.DefaultIdempotencyConfig(),
		webhookSecret:   webhookSecret,
		signatureBypass: signatureBypass,
		logger:          logger.Named("ingest"),
	}
}

// SetMetrics injects the telemetry instruments
func (s *Service) SetMetrics(m *telemetry.SyncMetrics) {
	s.metrics = m
}

// Process runs one verified delivery through the pipeline. The webhook
// watermark on the resolved connection advances whether or not processing
// succeeds; only an unresolvable connection leaves it untouched.
func (s *Service) Process(ctx context.Context, body []byte) (*Result, error) {
	started := time.Now()

	var delivery Delivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDelivery, err)
	}
	if delivery.EventID == "" || delivery.EventType == "" {
		return nil, fmt.Errorf("%w: event_id and event_type are required", ErrMalformedDelivery)
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "webhook", "process",
		attribute.String(telemetry.SpanAttrEventID, delivery.EventID),
		attribute.String(telemetry.SpanAttrEventType, delivery.EventType),
	)
	defer span.End()

	if s.metrics != nil {
		s.metrics.WebhooksReceived.Add(ctx, 1,
			metric.WithAttributes(telemetry.AttrEventType.String(delivery.EventType)))
	}

	log := s.logger.With(
		zap.String("event_id", delivery.EventID),
		zap.String("event_type", delivery.EventType),
		zap.String("connection_id", delivery.ConnectionID),
	)

	// Redelivery of an already-processed event ID acknowledges without
	// reapplying. A previously failed event gets another attempt.
	existing, err := s.events.FindByEventID(ctx, delivery.EventID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("ingest: lookup event: %w", err)
	}
	if existing != nil && existing.IsProcessed() {
		log.Info("Duplicate delivery acknowledged")
		if s.metrics != nil {
			s.metrics.WebhooksDuplicate.Add(ctx, 1,
				metric.WithAttributes(telemetry.AttrEventType.String(delivery.EventType)))
		}
		s.touchWebhook(ctx, delivery.ConnectionID)
		return &Result{EventID: delivery.EventID, EventType: delivery.EventType, Duplicate: true}, nil
	}

	// An unknown connection is terminal: the delivery is recorded as failed
	// so operators can see it, and the sender gets a 404 to stop retrying.
	conn, err := s.connections.FindByExternalID(ctx, delivery.ConnectionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.recordOrphan(ctx, existing, delivery, body)
			return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, delivery.ConnectionID)
		}
		return nil, fmt.Errorf("ingest: resolve connection: %w", err)
	}
	defer s.touchConnection(ctx, conn)

	event := existing
	if event == nil {
		event, err = webhook.NewEvent(conn.TenantID, delivery.EventID, Source, delivery.EventType, body)
		if err != nil {
			return nil, fmt.Errorf("ingest: record event: %w", err)
		}
		event.BrandID = &conn.BrandID
	}

	resource, action := splitEventType(delivery.EventType)
	event.IdempotencyKey = webhook.ComputeIdempotencyKey(conn.TenantID, &conn.BrandID, resource, action, delivery.Data)

	// Content-key check catches the same logical change redelivered under a
	// fresh event ID. Retries of a known failed event skip it: their key was
	// already marked on the first attempt.
	if existing == nil && s.idempotency != nil && s.idemCfg.Enabled {
		fresh, err := s.idempotency.MarkProcessed(ctx, event.IdempotencyKey, s.idemCfg.TTL)
		if err != nil {
			// The store being down must not stall ingestion; the event-ID
			// check above already covers exact redeliveries.
			log.Warn("Idempotency store unavailable, continuing", zap.Error(err))
		} else if !fresh {
			log.Info("Duplicate content acknowledged",
				zap.String("idempotency_key", event.IdempotencyKey))
			event.MarkProcessed(time.Since(started))
			if err := s.events.Save(ctx, event); err != nil {
				return nil, fmt.Errorf("ingest: save event: %w", err)
			}
			if s.metrics != nil {
				s.metrics.WebhooksDuplicate.Add(ctx, 1,
					metric.WithAttributes(telemetry.AttrEventType.String(delivery.EventType)))
			}
			return &Result{EventID: delivery.EventID, EventType: delivery.EventType, Duplicate: true}, nil
		}
	}

	applyErr := s.apply(ctx, conn, resource, delivery)
	if applyErr != nil {
		event.MarkFailed(applyErr)
	} else {
		event.MarkProcessed(time.Since(started))
	}
	if err := s.events.Save(ctx, event); err != nil {
		return nil, fmt.Errorf("ingest: save event: %w", err)
	}

	if s.metrics != nil {
		attrs := metric.WithAttributes(telemetry.AttrEventType.String(delivery.EventType))
		s.metrics.WebhookLatency.Record(ctx, time.Since(started).Seconds(), attrs)
		if applyErr != nil {
			s.metrics.WebhooksFailed.Add(ctx, 1, attrs)
		}
	}
	if applyErr != nil {
		telemetry.RecordError(span, applyErr)
		return nil, applyErr
	}
	return &Result{EventID: delivery.EventID, EventType: delivery.EventType}, nil
}

// apply routes the delivery payload to the reconciliation engine by its
// resource prefix. Unknown resources are acknowledged and logged so new
// aggregator event types never bounce.
func (s *Service) apply(ctx context.Context, conn *connection.Connection, resource string, delivery Delivery) error {
	switch resource {
	case "order":
		var payload trackstar.Order
		if err := json.Unmarshal(delivery.Data, &payload); err != nil {
			return fmt.Errorf("%w: order data: %v", ErrMalformedDelivery, err)
		}
		_, err := s.engine.UpsertOrder(ctx, conn.TenantID, conn.BrandID, payload)
		return err
	case "product":
		var payload trackstar.Product
		if err := json.Unmarshal(delivery.Data, &payload); err != nil {
			return fmt.Errorf("%w: product data: %v", ErrMalformedDelivery, err)
		}
		_, err := s.engine.UpsertProduct(ctx, conn.TenantID, conn.BrandID, payload)
		return err
	case "inventory":
		var payload trackstar.InventoryItem
		if err := json.Unmarshal(delivery.Data, &payload); err != nil {
			return fmt.Errorf("%w: inventory data: %v", ErrMalformedDelivery, err)
		}
		_, err := s.engine.UpsertInventoryItem(ctx, conn.TenantID, conn.BrandID, payload)
		return err
	case "shipment":
		var payload trackstar.Shipment
		if err := json.Unmarshal(delivery.Data, &payload); err != nil {
			return fmt.Errorf("%w: shipment data: %v", ErrMalformedDelivery, err)
		}
		_, err := s.engine.UpsertShipment(ctx, conn.TenantID, conn.BrandID, payload)
		return err
	default:
		s.logger.Info("Unhandled event type acknowledged",
			zap.String("event_type", delivery.EventType),
			zap.String("connection_id", delivery.ConnectionID),
		)
		return nil
	}
}

// ReplayEvent re-runs a stored delivery through the pipeline, bypassing the
// processed short-circuit and the content-key check
func (s *Service) ReplayEvent(ctx context.Context, eventID string) error {
	event, err := s.events.FindByEventID(ctx, eventID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return fmt.Errorf("ingest: lookup event: %w", err)
	}

	var delivery Delivery
	if err := json.Unmarshal(event.Payload, &delivery); err != nil {
		return fmt.Errorf("%w: stored payload: %v", ErrMalformedDelivery, err)
	}

	conn, err := s.connections.FindByExternalID(ctx, delivery.ConnectionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrConnectionNotFound, delivery.ConnectionID)
		}
		return fmt.Errorf("ingest: resolve connection: %w", err)
	}

	started := time.Now()
	resource, _ := splitEventType(delivery.EventType)
	applyErr := s.apply(ctx, conn, resource, delivery)
	if applyErr != nil {
		event.MarkFailed(applyErr)
	} else {
		event.MarkProcessed(time.Since(started))
	}
	if err := s.events.Save(ctx, event); err != nil {
		return fmt.Errorf("ingest: save event: %w", err)
	}
	return applyErr
}

// recordOrphan persists a delivery whose connection could not be resolved.
// The tenant is unknown, so the record carries the nil tenant and exists
// purely for operator visibility.
func (s *Service) recordOrphan(ctx context.Context, existing *webhook.Event, delivery Delivery, body []byte) {
	event := existing
	if event == nil {
		var err error
		event, err = webhook.NewEvent(uuid.Nil, delivery.EventID, Source, delivery.EventType, body)
		if err != nil {
			s.logger.Warn("Failed to record orphan delivery", zap.Error(err))
			return
		}
	}
	event.MarkFailed(fmt.Errorf("%w: %s", ErrConnectionNotFound, delivery.ConnectionID))
	if err := s.events.Save(ctx, event); err != nil {
		s.logger.Warn("Failed to save orphan delivery", zap.Error(err))
	}
}

// touchWebhook advances the webhook watermark for a connection referenced
// only by its external ID
func (s *Service) touchWebhook(ctx context.Context, externalID string) {
	conn, err := s.connections.FindByExternalID(ctx, externalID)
	if err != nil {
		return
	}
	s.touchConnection(ctx, conn)
}

// touchConnection advances the webhook watermark; failures are logged, never
// surfaced, because the watermark is advisory
func (s *Service) touchConnection(ctx context.Context, conn *connection.Connection) {
	if err := s.connections.UpdateLastWebhookAt(ctx, conn.ID, time.Now()); err != nil {
		s.logger.Warn("Failed to advance webhook watermark",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
	}
}

// splitEventType breaks "order.created" into ("order", "created")
func splitEventType(eventType string) (resource, action string) {
	parts := strings.SplitN(eventType, ".", 2)
	resource = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return resource, action
}
