package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wmsync/backend/internal/domain/shared"
)

var (
	ErrInvalidTenantID   = errors.New("catalog: invalid tenant ID")
	ErrInvalidExternalID = errors.New("catalog: external product ID is required")
)

// UnknownProductName is the fallback name when the aggregator supplies
// neither a name nor a title.
const UnknownProductName = "Unknown Product"

// Product is the canonical mirror of an aggregator product, keyed by
// (tenant, brand, external ID). Upserts are idempotent: applying the same
// payload twice produces the same stored state.
type Product struct {
	shared.TenantEntity
	BrandID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_products_brand_external,priority:2"`
	ExternalID string    `gorm:"size:128;not null;uniqueIndex:idx_products_brand_external,priority:3"`
	// SKU falls back to the external ID when the aggregator omits it
	SKU  string `gorm:"size:128;not null;index"`
	Name string `gorm:"size:512;not null"`
	// UpdatedRemoteAt is the aggregator-side update timestamp, used for
	// last-write-wins ordering across interleaved sync passes
	UpdatedRemoteAt *time.Time
	Raw             []byte `gorm:"type:jsonb"`
}

// TableName returns the table name for GORM
func (Product) TableName() string {
	return "products"
}

// New creates a canonical product record
func New(tenantID, brandID uuid.UUID, externalID string) (*Product, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if externalID == "" {
		return nil, ErrInvalidExternalID
	}
	return &Product{
		TenantEntity: shared.NewTenantEntity(tenantID),
		BrandID:      brandID,
		ExternalID:   externalID,
	}, nil
}

// Repository defines the persistence interface for products
type Repository interface {
	// Upsert inserts or updates a product by its (tenant, brand, external ID) key
	Upsert(ctx context.Context, product *Product) error

	// FindByExternalID finds a product by its upsert key
	FindByExternalID(ctx context.Context, tenantID, brandID uuid.UUID, externalID string) (*Product, error)

	// CountForTenant counts products for a tenant
	CountForTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
}
