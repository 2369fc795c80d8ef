package inventory

import (
	"context"

	"github.com/google/uuid"

	"github.com/wmsync/backend/internal/domain/shared"
)

// Warehouse is a physical location reported by the aggregator. Warehouses
// are created lazily the first time an inventory payload references a new
// external location ID.
type Warehouse struct {
	shared.TenantEntity
	ExternalID string `gorm:"size:128;not null;uniqueIndex:idx_warehouses_tenant_external,priority:2"`
	Name       string `gorm:"size:255;not null"`
	Address    string `gorm:"size:512"`
	City       string `gorm:"size:128"`
	Region     string `gorm:"size:128"`
	Country    string `gorm:"size:64"`
	PostalCode string `gorm:"size:32"`
}

// TableName returns the table name for GORM
func (Warehouse) TableName() string {
	return "warehouses"
}

// NewWarehouse creates a warehouse from location metadata
func NewWarehouse(tenantID uuid.UUID, externalID, name string) (*Warehouse, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if externalID == "" {
		return nil, ErrInvalidWarehouse
	}
	if name == "" {
		name = externalID
	}
	return &Warehouse{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalID:   externalID,
		Name:         name,
	}, nil
}

// WarehouseRepository defines the persistence interface for warehouses
type WarehouseRepository interface {
	// Save creates or updates a warehouse
	Save(ctx context.Context, warehouse *Warehouse) error

	// FindByExternalID finds a warehouse by its aggregator location ID
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*Warehouse, error)

	// FindOrCreate resolves a warehouse, creating it when the external
	// location ID has not been seen before
	FindOrCreate(ctx context.Context, tenantID uuid.UUID, externalID, name string) (*Warehouse, error)
}
