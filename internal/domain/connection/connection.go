package connection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wmsync/backend/internal/domain/shared"
)

var (
	ErrInvalidTenantID   = errors.New("connection: invalid tenant ID")
	ErrInvalidProvider   = errors.New("connection: provider is required")
	ErrInvalidExternalID = errors.New("connection: external connection ID is required")
	ErrNotActive         = errors.New("connection: connection is not active")
)

// ConfigKeyInitialBackfillCompleted marks that the delayed full backfill has
// run to completion for a connection.
const ConfigKeyInitialBackfillCompleted = "initialBackfillCompleted"

// Status represents the lifecycle status of a connection
type Status string

const (
	// StatusPending indicates the connection was created but not yet verified
	StatusPending Status = "PENDING"
	// StatusActive indicates the connection is healthy and syncing
	StatusActive Status = "ACTIVE"
	// StatusError indicates the connection is in a failed state
	StatusError Status = "ERROR"
)

// IsValid returns true if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// Connection is a tenant's authenticated link to the warehouse aggregator
// for one provider. At most one connection may exist per (tenant, provider)
// pair; the uniqueness is enforced by a database index, not a runtime check.
// Connections are never hard-deleted by the engine.
type Connection struct {
	shared.TenantEntity
	BrandID uuid.UUID `gorm:"type:uuid;not null;index"`
	// Provider is the integration name behind the aggregator (e.g. "shiphero")
	Provider string `gorm:"size:128;not null;uniqueIndex:idx_connections_tenant_provider,priority:2"`
	// ExternalID is the aggregator-side connection identifier
	ExternalID string `gorm:"size:128;not null;uniqueIndex"`
	// AccessToken is the per-connection credential used for WMS calls
	AccessToken string `gorm:"size:512;not null"`
	// IntegrationName is the human-readable provider name reported on exchange
	IntegrationName  string   `gorm:"size:255"`
	AvailableActions []string `gorm:"serializer:json"`
	Status           Status   `gorm:"size:16;not null;default:'PENDING';index"`
	// LastSyncedAt advances on completion of every sync pass
	LastSyncedAt *time.Time
	// LastWebhookAt advances on every handled delivery, success or not
	LastWebhookAt *time.Time
	// Config is free-form per-connection state, e.g. backfill-completion flags
	Config map[string]string `gorm:"serializer:json"`
}

// TableName returns the table name for GORM
func (Connection) TableName() string {
	return "connections"
}

// New creates a pending connection for a tenant/provider pair
func New(tenantID, brandID uuid.UUID, provider, externalID, accessToken string) (*Connection, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if provider == "" {
		return nil, ErrInvalidProvider
	}
	if externalID == "" {
		return nil, ErrInvalidExternalID
	}
	return &Connection{
		TenantEntity: shared.NewTenantEntity(tenantID),
		BrandID:      brandID,
		Provider:     provider,
		ExternalID:   externalID,
		AccessToken:  accessToken,
		Status:       StatusPending,
		Config:       make(map[string]string),
	}, nil
}

// Activate transitions the connection to ACTIVE
func (c *Connection) Activate() {
	c.Status = StatusActive
	c.UpdatedAt = time.Now()
}

// MarkError transitions the connection to ERROR
func (c *Connection) MarkError() {
	c.Status = StatusError
	c.UpdatedAt = time.Now()
}

// IsActive returns true if the connection can be synced against
func (c *Connection) IsActive() bool {
	return c.Status == StatusActive
}

// TouchSynced advances LastSyncedAt to now
func (c *Connection) TouchSynced(at time.Time) {
	c.LastSyncedAt = &at
	c.UpdatedAt = time.Now()
}

// TouchWebhook advances LastWebhookAt to now
func (c *Connection) TouchWebhook(at time.Time) {
	c.LastWebhookAt = &at
	c.UpdatedAt = time.Now()
}

// SetConfig sets a free-form config flag
func (c *Connection) SetConfig(key, value string) {
	if c.Config == nil {
		c.Config = make(map[string]string)
	}
	c.Config[key] = value
	c.UpdatedAt = time.Now()
}

// InitialBackfillCompleted reports whether the delayed full backfill has run
func (c *Connection) InitialBackfillCompleted() bool {
	return c.Config[ConfigKeyInitialBackfillCompleted] == "true"
}

// Repository defines the persistence interface for connections
type Repository interface {
	// Save creates or updates a connection
	Save(ctx context.Context, conn *Connection) error

	// FindByID finds a connection by its ID within a tenant
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Connection, error)

	// FindByExternalID finds a connection by the aggregator-side connection ID
	FindByExternalID(ctx context.Context, externalID string) (*Connection, error)

	// FindByTenantAndProvider finds the connection for a tenant/provider pair
	FindByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, provider string) (*Connection, error)

	// FindAllActive returns all ACTIVE connections across tenants
	FindAllActive(ctx context.Context) ([]Connection, error)

	// UpdateLastSyncedAt advances the sync watermark without touching other fields
	UpdateLastSyncedAt(ctx context.Context, id uuid.UUID, at time.Time) error

	// UpdateLastWebhookAt advances the webhook watermark without touching other fields
	UpdateLastWebhookAt(ctx context.Context, id uuid.UUID, at time.Time) error
}
