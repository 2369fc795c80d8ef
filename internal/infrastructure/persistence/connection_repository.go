package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/shared"
)

// GormConnectionRepository implements connection.Repository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// Save creates or updates a connection
func (r *GormConnectionRepository) Save(ctx context.Context, conn *connection.Connection) error {
	return r.db.WithContext(ctx).Save(conn).Error
}

// FindByID finds a connection by its ID within a tenant
func (r *GormConnectionRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*connection.Connection, error) {
	var conn connection.Connection
	if err := r.db.WithContext(ctx).First(&conn, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// FindByExternalID finds a connection by the aggregator's connection identifier
func (r *GormConnectionRepository) FindByExternalID(ctx context.Context, externalID string) (*connection.Connection, error) {
	var conn connection.Connection
	if err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// FindByTenantAndProvider finds the single connection for a (tenant, provider) pair
func (r *GormConnectionRepository) FindByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, provider string) (*connection.Connection, error) {
	var conn connection.Connection
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// FindAllActive returns every ACTIVE connection across tenants
func (r *GormConnectionRepository) FindAllActive(ctx context.Context) ([]connection.Connection, error) {
	var conns []connection.Connection
	if err := r.db.WithContext(ctx).
		Where("status = ?", connection.StatusActive).
		Order("created_at ASC").
		Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// UpdateLastSyncedAt advances the sync watermark without touching other fields
func (r *GormConnectionRepository) UpdateLastSyncedAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&connection.Connection{}).
		Where("id = ?", id).
		Update("last_synced_at", at).Error
}

// UpdateLastWebhookAt records webhook delivery recency without touching other fields
func (r *GormConnectionRepository) UpdateLastWebhookAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&connection.Connection{}).
		Where("id = ?", id).
		Update("last_webhook_at", at).Error
}

var _ connection.Repository = (*GormConnectionRepository)(nil)
