package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wmsync/backend/internal/domain/inventory"
	"github.com/wmsync/backend/internal/domain/shared"
)

// GormWarehouseRepository implements inventory.WarehouseRepository using GORM
type GormWarehouseRepository struct {
	db *gorm.DB
}

// NewGormWarehouseRepository creates a new GormWarehouseRepository
func NewGormWarehouseRepository(db *gorm.DB) *GormWarehouseRepository {
	return &GormWarehouseRepository{db: db}
}

// Save creates or updates a warehouse
func (r *GormWarehouseRepository) Save(ctx context.Context, warehouse *inventory.Warehouse) error {
	return r.db.WithContext(ctx).Save(warehouse).Error
}

// FindByExternalID finds a warehouse by its aggregator location ID
func (r *GormWarehouseRepository) FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*inventory.Warehouse, error) {
	var warehouse inventory.Warehouse
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&warehouse).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &warehouse, nil
}

// FindOrCreate resolves a warehouse, creating it lazily the first time an
// external location ID is seen
func (r *GormWarehouseRepository) FindOrCreate(ctx context.Context, tenantID uuid.UUID, externalID, name string) (*inventory.Warehouse, error) {
	existing, err := r.FindByExternalID(ctx, tenantID, externalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	warehouse, err := inventory.NewWarehouse(tenantID, externalID, name)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(warehouse).Error; err != nil {
		// A concurrent creator may have won the unique index race.
		if found, findErr := r.FindByExternalID(ctx, tenantID, externalID); findErr == nil {
			return found, nil
		}
		return nil, err
	}
	return warehouse, nil
}

var _ inventory.WarehouseRepository = (*GormWarehouseRepository)(nil)
