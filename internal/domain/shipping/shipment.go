package shipping

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wmsync/backend/internal/domain/shared"
)

var (
	ErrInvalidTenantID   = errors.New("shipping: invalid tenant ID")
	ErrInvalidExternalID = errors.New("shipping: external shipment ID is required")
)

// TrackingSeparator joins tracking numbers and carrier names when a
// shipment carries multiple packages.
const TrackingSeparator = ", "

// Shipment is the canonical mirror of an aggregator shipment, keyed by
// (tenant, brand, external ID). Multiple packages collapse into joined
// tracking-number and carrier strings.
type Shipment struct {
	shared.TenantEntity
	BrandID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_shipments_brand_external,priority:2"`
	ExternalID      string    `gorm:"size:128;not null;uniqueIndex:idx_shipments_brand_external,priority:3"`
	OrderExternalID string    `gorm:"size:128;index"`

	Status          string `gorm:"size:64"`
	TrackingNumbers string `gorm:"size:1024"`
	Carriers        string `gorm:"size:512"`

	ShippedAt *time.Time
	// UpdatedRemoteAt is the aggregator-side update timestamp
	UpdatedRemoteAt *time.Time
}

// TableName returns the table name for GORM
func (Shipment) TableName() string {
	return "shipments"
}

// NewShipment creates a canonical shipment record
func NewShipment(tenantID, brandID uuid.UUID, externalID string) (*Shipment, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if externalID == "" {
		return nil, ErrInvalidExternalID
	}
	return &Shipment{
		TenantEntity: shared.NewTenantEntity(tenantID),
		BrandID:      brandID,
		ExternalID:   externalID,
	}, nil
}

// JoinTracking collapses per-package values into a single field, skipping
// blanks and deduplicating repeated carriers.
func JoinTracking(values []string) string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return strings.Join(out, TrackingSeparator)
}

// Repository defines the persistence interface for shipments
type Repository interface {
	// Upsert inserts or updates a shipment by its (tenant, brand, external ID) key
	Upsert(ctx context.Context, shipment *Shipment) error

	// FindByExternalID finds a shipment by its upsert key
	FindByExternalID(ctx context.Context, tenantID, brandID uuid.UUID, externalID string) (*Shipment, error)

	// FindByOrderExternalID lists shipments attached to an aggregator order
	FindByOrderExternalID(ctx context.Context, tenantID, brandID uuid.UUID, orderExternalID string) ([]Shipment, error)

	// CountForTenant counts shipments for a tenant
	CountForTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
}
