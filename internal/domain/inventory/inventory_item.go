package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wmsync/backend/internal/domain/shared"
)

var (
	ErrInvalidTenantID  = errors.New("inventory: invalid tenant ID")
	ErrMissingSKU       = errors.New("inventory: SKU is required")
	ErrInvalidWarehouse = errors.New("inventory: warehouse ID is required")
)

// InventoryItem is the canonical per-warehouse stock snapshot for one SKU.
// The upsert key is (tenant, brand, warehouse, SKU). Quantities mirror the
// aggregator fields one to one; missing numeric fields fall back to zero at
// the mapping boundary, never inside business logic.
type InventoryItem struct {
	shared.TenantEntity
	BrandID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_inventory_brand_wh_sku,priority:2"`
	WarehouseID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_inventory_brand_wh_sku,priority:3"`
	SKU         string    `gorm:"size:128;not null;uniqueIndex:idx_inventory_brand_wh_sku,priority:4;index"`
	ExternalID  string    `gorm:"size:128;index"`

	OnHand        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Fulfillable   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Committed     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Unfulfillable decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Unsellable    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	AwaitingQty   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`

	// UpdatedRemoteAt is the aggregator-side update timestamp
	UpdatedRemoteAt *time.Time
}

// TableName returns the table name for GORM
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// NewInventoryItem creates a canonical inventory snapshot record
func NewInventoryItem(tenantID, brandID, warehouseID uuid.UUID, sku string) (*InventoryItem, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if warehouseID == uuid.Nil {
		return nil, ErrInvalidWarehouse
	}
	if sku == "" {
		return nil, ErrMissingSKU
	}
	return &InventoryItem{
		TenantEntity: shared.NewTenantEntity(tenantID),
		BrandID:      brandID,
		WarehouseID:  warehouseID,
		SKU:          sku,
	}, nil
}

// Available returns the quantity available for new orders
func (i *InventoryItem) Available() decimal.Decimal {
	return i.Fulfillable
}

// Repository defines the persistence interface for inventory snapshots
type Repository interface {
	// Upsert inserts or updates a snapshot by (tenant, brand, warehouse, SKU)
	Upsert(ctx context.Context, item *InventoryItem) error

	// FindBySKU returns all warehouse snapshots for a SKU within a tenant/brand
	FindBySKU(ctx context.Context, tenantID, brandID uuid.UUID, sku string) ([]InventoryItem, error)

	// FindLatestBySKU returns the most recently updated snapshot for a SKU,
	// or shared.ErrNotFound when the SKU has never been seen
	FindLatestBySKU(ctx context.Context, tenantID, brandID uuid.UUID, sku string) (*InventoryItem, error)

	// CountForTenant counts snapshots for a tenant
	CountForTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
}
