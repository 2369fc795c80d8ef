package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wmsync/backend/internal/domain/catalog"
	"github.com/wmsync/backend/internal/domain/shared"
)

// GormProductRepository implements catalog.Repository using GORM
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// Upsert inserts or updates a product by its (tenant, brand, external ID)
// key. Applying the same payload twice leaves the same stored state.
func (r *GormProductRepository) Upsert(ctx context.Context, product *catalog.Product) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing catalog.Product
		err := tx.Where("tenant_id = ? AND brand_id = ? AND external_id = ?",
			product.TenantID, product.BrandID, product.ExternalID).
			First(&existing).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(product).Error
			}
			return err
		}

		product.ID = existing.ID
		product.CreatedAt = existing.CreatedAt
		return tx.Save(product).Error
	})
}

// FindByExternalID finds a product by its upsert key
func (r *GormProductRepository) FindByExternalID(ctx context.Context, tenantID, brandID uuid.UUID, externalID string) (*catalog.Product, error) {
	var product catalog.Product
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND brand_id = ? AND external_id = ?", tenantID, brandID, externalID).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

// CountForTenant counts products for a tenant
func (r *GormProductRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&catalog.Product{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}

var _ catalog.Repository = (*GormProductRepository)(nil)
