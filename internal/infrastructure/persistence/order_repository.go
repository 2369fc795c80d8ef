package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/trade"
)

// GormOrderRepository implements trade.Repository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Upsert inserts or updates an order by its (tenant, brand, external ID)
// key. Line items are replaced wholesale so a re-applied payload cannot
// accumulate duplicates.
func (r *GormOrderRepository) Upsert(ctx context.Context, order *trade.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing trade.Order
		err := tx.Where("tenant_id = ? AND brand_id = ? AND external_id = ?",
			order.TenantID, order.BrandID, order.ExternalID).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err == nil {
			order.ID = existing.ID
			order.CreatedAt = existing.CreatedAt
			if err := tx.Where("order_id = ?", existing.ID).Delete(&trade.OrderItem{}).Error; err != nil {
				return err
			}
		}

		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}
		return tx.Save(order).Error
	})
}

// FindByExternalID finds an order by its upsert key, items included
func (r *GormOrderRepository) FindByExternalID(ctx context.Context, tenantID, brandID uuid.UUID, externalID string) (*trade.Order, error) {
	var order trade.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("tenant_id = ? AND brand_id = ? AND external_id = ?", tenantID, brandID, externalID).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// CountForTenant counts orders for a tenant
func (r *GormOrderRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&trade.Order{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}

var _ trade.Repository = (*GormOrderRepository)(nil)
