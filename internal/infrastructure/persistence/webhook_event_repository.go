package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/webhook"
)

// GormWebhookEventRepository implements webhook.Repository using GORM
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewGormWebhookEventRepository creates a new GormWebhookEventRepository
func NewGormWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// Save creates or updates a webhook event
func (r *GormWebhookEventRepository) Save(ctx context.Context, event *webhook.Event) error {
	return r.db.WithContext(ctx).Save(event).Error
}

// FindByEventID finds an event by the aggregator-supplied event ID
func (r *GormWebhookEventRepository) FindByEventID(ctx context.Context, eventID string) (*webhook.Event, error) {
	var event webhook.Event
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

// FindForTenant lists events for a tenant matching the filter, most recent first
func (r *GormWebhookEventRepository) FindForTenant(ctx context.Context, tenantID uuid.UUID, filter webhook.EventFilter) ([]webhook.Event, error) {
	query := r.db.WithContext(ctx).
		Model(&webhook.Event{}).
		Where("tenant_id = ?", tenantID)

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.EventType != nil {
		query = query.Where("event_type = ?", *filter.EventType)
	}
	if filter.Since != nil {
		query = query.Where("received_at >= ?", *filter.Since)
	}

	query = query.Order("received_at DESC").
		Offset(filter.Offset()).
		Limit(filter.Limit())

	var events []webhook.Event
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountByStatusSince counts a tenant's events per status received after the
// cutoff. The health endpoint derives error rates from this.
func (r *GormWebhookEventRepository) CountByStatusSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (map[webhook.EventStatus]int64, error) {
	type row struct {
		Status webhook.EventStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&webhook.Event{}).
		Select("status, COUNT(*) AS count").
		Where("tenant_id = ? AND received_at >= ?", tenantID, since).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[webhook.EventStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

var _ webhook.Repository = (*GormWebhookEventRepository)(nil)
