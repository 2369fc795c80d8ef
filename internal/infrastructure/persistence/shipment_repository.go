package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/shipping"
)

// GormShipmentRepository implements shipping.Repository using GORM
type GormShipmentRepository struct {
	db *gorm.DB
}

// NewGormShipmentRepository creates a new GormShipmentRepository
func NewGormShipmentRepository(db *gorm.DB) *GormShipmentRepository {
	return &GormShipmentRepository{db: db}
}

// Upsert inserts or updates a shipment by its (tenant, brand, external ID) key
func (r *GormShipmentRepository) Upsert(ctx context.Context, shipment *shipping.Shipment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing shipping.Shipment
		err := tx.Where("tenant_id = ? AND brand_id = ? AND external_id = ?",
			shipment.TenantID, shipment.BrandID, shipment.ExternalID).
			First(&existing).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(shipment).Error
			}
			return err
		}

		shipment.ID = existing.ID
		shipment.CreatedAt = existing.CreatedAt
		return tx.Save(shipment).Error
	})
}

// FindByExternalID finds a shipment by its upsert key
func (r *GormShipmentRepository) FindByExternalID(ctx context.Context, tenantID, brandID uuid.UUID, externalID string) (*shipping.Shipment, error) {
	var shipment shipping.Shipment
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND brand_id = ? AND external_id = ?", tenantID, brandID, externalID).
		First(&shipment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &shipment, nil
}

// FindByOrderExternalID lists shipments attached to an aggregator order
func (r *GormShipmentRepository) FindByOrderExternalID(ctx context.Context, tenantID, brandID uuid.UUID, orderExternalID string) ([]shipping.Shipment, error) {
	var shipments []shipping.Shipment
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND brand_id = ? AND order_external_id = ?", tenantID, brandID, orderExternalID).
		Find(&shipments).Error; err != nil {
		return nil, err
	}
	return shipments, nil
}

// CountForTenant counts shipments for a tenant
func (r *GormShipmentRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&shipping.Shipment{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}

var _ shipping.Repository = (*GormShipmentRepository)(nil)
