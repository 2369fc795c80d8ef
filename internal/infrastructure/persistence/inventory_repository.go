package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wmsync/backend/internal/domain/inventory"
	"github.com/wmsync/backend/internal/domain/shared"
)

// GormInventoryRepository implements inventory.Repository using GORM
type GormInventoryRepository struct {
	db *gorm.DB
}

// NewGormInventoryRepository creates a new GormInventoryRepository
func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

// Upsert inserts or updates a snapshot by (tenant, brand, warehouse, SKU)
func (r *GormInventoryRepository) Upsert(ctx context.Context, item *inventory.InventoryItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing inventory.InventoryItem
		err := tx.Where("tenant_id = ? AND brand_id = ? AND warehouse_id = ? AND sku = ?",
			item.TenantID, item.BrandID, item.WarehouseID, item.SKU).
			First(&existing).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(item).Error
			}
			return err
		}

		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
		return tx.Save(item).Error
	})
}

// FindBySKU returns all warehouse snapshots for a SKU within a tenant/brand
func (r *GormInventoryRepository) FindBySKU(ctx context.Context, tenantID, brandID uuid.UUID, sku string) ([]inventory.InventoryItem, error) {
	var items []inventory.InventoryItem
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND brand_id = ? AND sku = ?", tenantID, brandID, sku).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// FindLatestBySKU returns the most recently updated snapshot for a SKU.
// Backorder detection reads this; absence maps to shared.ErrNotFound so the
// caller can fail open.
func (r *GormInventoryRepository) FindLatestBySKU(ctx context.Context, tenantID, brandID uuid.UUID, sku string) (*inventory.InventoryItem, error) {
	var item inventory.InventoryItem
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND brand_id = ? AND sku = ?", tenantID, brandID, sku).
		Order("COALESCE(updated_remote_at, updated_at) DESC").
		First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// CountForTenant counts snapshots for a tenant
func (r *GormInventoryRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&inventory.InventoryItem{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}

var _ inventory.Repository = (*GormInventoryRepository)(nil)
