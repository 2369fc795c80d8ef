package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wmsync/backend/internal/domain/shared"
)

var (
	ErrInvalidEventID   = errors.New("webhook: event ID is required")
	ErrInvalidEventType = errors.New("webhook: event type is required")
	ErrDuplicateEvent   = errors.New("webhook: event already processed")
)

// EventStatus represents the processing status of a webhook delivery
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"
)

// IsValid returns true if the status is valid
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusPending, EventStatusProcessed, EventStatusFailed:
		return true
	default:
		return false
	}
}

// Event records one webhook delivery from the aggregator. It is keyed by the
// aggregator-supplied event ID: once an event reaches processed status, any
// redelivery of the same ID is acknowledged without reapplying the payload.
type Event struct {
	shared.TenantEntity
	// EventID is the globally unique delivery identifier from the aggregator
	EventID string `gorm:"size:128;not null;uniqueIndex"`
	// Source is the delivery origin (e.g. "trackstar")
	Source    string     `gorm:"size:64;not null"`
	EventType string     `gorm:"size:128;not null;index"`
	BrandID   *uuid.UUID `gorm:"type:uuid;index"`
	// Payload is the raw delivery body as received
	Payload []byte `gorm:"type:jsonb"`
	// IdempotencyKey is a content-derived duplicate detector, independent of
	// the delivery-layer event ID
	IdempotencyKey string      `gorm:"size:64;index"`
	Status         EventStatus `gorm:"size:16;not null;default:'pending';index"`
	Attempts       int         `gorm:"not null;default:0"`
	Error          string      `gorm:"type:text"`
	ReceivedAt     time.Time   `gorm:"not null"`
	ProcessedAt    *time.Time
	// ProcessingMillis is how long the last processing attempt took
	ProcessingMillis int64
}

// TableName returns the table name for GORM
func (Event) TableName() string {
	return "webhook_events"
}

// NewEvent creates a pending webhook event record
func NewEvent(tenantID uuid.UUID, eventID, source, eventType string, payload []byte) (*Event, error) {
	if eventID == "" {
		return nil, ErrInvalidEventID
	}
	if eventType == "" {
		return nil, ErrInvalidEventType
	}
	return &Event{
		TenantEntity: shared.NewTenantEntity(tenantID),
		EventID:      eventID,
		Source:       source,
		EventType:    eventType,
		Payload:      payload,
		Status:       EventStatusPending,
		ReceivedAt:   time.Now(),
	}, nil
}

// MarkProcessed records a successful processing attempt
func (e *Event) MarkProcessed(took time.Duration) {
	now := time.Now()
	e.Status = EventStatusProcessed
	e.ProcessedAt = &now
	e.ProcessingMillis = took.Milliseconds()
	e.Attempts++
	e.Error = ""
	e.UpdatedAt = now
}

// MarkFailed records a failed processing attempt
func (e *Event) MarkFailed(err error) {
	e.Status = EventStatusFailed
	e.Attempts++
	if err != nil {
		e.Error = err.Error()
	}
	e.UpdatedAt = time.Now()
}

// IsProcessed returns true if the event has already been applied
func (e *Event) IsProcessed() bool {
	return e.Status == EventStatusProcessed
}

// ComputeIdempotencyKey derives a content-based key from the logical
// operation the delivery represents. The payload is normalized (decoded and
// re-encoded) so that key equality is insensitive to whitespace and field
// ordering differences between redeliveries.
func ComputeIdempotencyKey(tenantID uuid.UUID, brandID *uuid.UUID, resource, action string, payload []byte) string {
	normalized := payload
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err == nil {
		if reencoded, err := json.Marshal(decoded); err == nil {
			normalized = reencoded
		}
	}

	brand := ""
	if brandID != nil {
		brand = brandID.String()
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s:%s:", tenantID, brand, resource, action)
	h.Write(normalized)
	return hex.EncodeToString(h.Sum(nil))
}

// EventFilter defines filter criteria for listing webhook events
type EventFilter struct {
	// Status filters by processing status (optional)
	Status *EventStatus
	// EventType filters by event type (optional)
	EventType *string
	// Since filters events received at or after this time
	Since *time.Time
	// Filter carries pagination
	shared.Filter
}

// Repository defines the persistence interface for webhook events
type Repository interface {
	// Save creates or updates an event record
	Save(ctx context.Context, event *Event) error

	// FindByEventID finds an event by its aggregator-supplied event ID
	FindByEventID(ctx context.Context, eventID string) (*Event, error)

	// FindForTenant lists events for a tenant matching the filter
	FindForTenant(ctx context.Context, tenantID uuid.UUID, filter EventFilter) ([]Event, error)

	// CountByStatusSince counts events per status received since the given time
	CountByStatusSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (map[EventStatus]int64, error)
}
