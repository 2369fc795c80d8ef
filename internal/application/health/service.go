// Package health classifies sync and webhook freshness per connection and
// drives operator actions like failed-event replay.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/webhook"
)

var ErrConnectionNotFound = errors.New("health: connection not found")

// Status grades one health dimension
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarn     Status = "warn"
	StatusCritical Status = "critical"
)

// rank orders statuses for worst-of aggregation
func (s Status) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarn:
		return 1
	default:
		return 0
	}
}

// Thresholds are the lag and error-rate boundaries between grades
type Thresholds struct {
	SyncWarn        time.Duration
	SyncCritical    time.Duration
	WebhookWarn     time.Duration
	WebhookCritical time.Duration

	ErrorRateWarn     float64
	ErrorRateCritical float64
	// ErrorRateWindow is how far back failed/processed counts are sampled
	ErrorRateWindow time.Duration
}

// DefaultThresholds returns the standard grading boundaries
func DefaultThresholds() Thresholds {
	return Thresholds{
		SyncWarn:          5 * time.Minute,
		SyncCritical:      15 * time.Minute,
		WebhookWarn:       2 * time.Minute,
		WebhookCritical:   10 * time.Minute,
		ErrorRateWarn:     0.01,
		ErrorRateCritical: 0.05,
		ErrorRateWindow:   time.Hour,
	}
}

// ConnectionHealth is the graded freshness report for one connection
type ConnectionHealth struct {
	ConnectionID uuid.UUID         `json:"connection_id"`
	Provider     string            `json:"provider"`
	Connection   connection.Status `json:"connection_status"`

	LastSyncedAt  *time.Time `json:"last_synced_at"`
	SyncLag       string     `json:"sync_lag,omitempty"`
	SyncStatus    Status     `json:"sync_status"`
	LastWebhookAt *time.Time `json:"last_webhook_at"`
	WebhookLag    string     `json:"webhook_lag,omitempty"`
	WebhookStatus Status     `json:"webhook_status"`

	ErrorRate       float64 `json:"error_rate"`
	ErrorRateStatus Status  `json:"error_rate_status"`

	Overall Status `json:"overall"`
}

// ReplayScheduler queues a stored webhook delivery for re-processing. Replay
// runs on the task runner, not in the request, so a large sweep cannot hold
// the ops endpoint open.
type ReplayScheduler interface {
	ScheduleReplay(tenantID uuid.UUID, eventID string) error
}

// Service grades connection health and queues failed deliveries for replay
type Service struct {
	connections connection.Repository
	events      webhook.Repository
	replays     ReplayScheduler
	thresholds  Thresholds
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a health service
func NewService(
	connections connection.Repository,
	events webhook.Repository,
	replays ReplayScheduler,
	thresholds Thresholds,
	logger *zap.Logger,
) *Service {
	def := DefaultThresholds()
	if thresholds.SyncWarn <= 0 {
		thresholds.SyncWarn = def.SyncWarn
	}
	if thresholds.SyncCritical <= 0 {
		thresholds.SyncCritical = def.SyncCritical
	}
	if thresholds.WebhookWarn <= 0 {
		thresholds.WebhookWarn = def.WebhookWarn
	}
	if thresholds.WebhookCritical <= 0 {
		thresholds.WebhookCritical = def.WebhookCritical
	}
	if thresholds.ErrorRateWarn <= 0 {
		thresholds.ErrorRateWarn = def.ErrorRateWarn
	}
	if thresholds.ErrorRateCritical <= 0 {
		thresholds.ErrorRateCritical = def.ErrorRateCritical
	}
	if thresholds.ErrorRateWindow <= 0 {
		thresholds.ErrorRateWindow = def.ErrorRateWindow
	}
	return &Service{
		connections: connections,
		events:      events,
		replays:     replays,
		thresholds:  thresholds,
		logger:      logger.Named("health"),
		now:         time.Now,
	}
}

// CheckConnection grades one connection's sync lag, webhook lag, and recent
// webhook error rate. The overall grade is the worst of the three.
func (s *Service) CheckConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (*ConnectionHealth, error) {
	conn, err := s.connections.FindByID(ctx, tenantID, connectionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("health: load connection: %w", err)
	}

	report := &ConnectionHealth{
		ConnectionID:  conn.ID,
		Provider:      conn.Provider,
		Connection:    conn.Status,
		LastSyncedAt:  conn.LastSyncedAt,
		LastWebhookAt: conn.LastWebhookAt,
	}

	report.SyncStatus = s.gradeLag(conn.LastSyncedAt, s.thresholds.SyncWarn, s.thresholds.SyncCritical)
	if conn.LastSyncedAt != nil {
		report.SyncLag = s.now().Sub(*conn.LastSyncedAt).Round(time.Second).String()
	}
	report.WebhookStatus = s.gradeLag(conn.LastWebhookAt, s.thresholds.WebhookWarn, s.thresholds.WebhookCritical)
	if conn.LastWebhookAt != nil {
		report.WebhookLag = s.now().Sub(*conn.LastWebhookAt).Round(time.Second).String()
	}

	rate, err := s.errorRate(ctx, tenantID)
	if err != nil {
		s.logger.Warn("Failed to sample webhook error rate",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}
	report.ErrorRate = rate
	report.ErrorRateStatus = s.gradeRate(rate)

	report.Overall = worst(report.SyncStatus, report.WebhookStatus, report.ErrorRateStatus)
	return report, nil
}

// gradeLag classifies a watermark's distance from now. A connection that has
// never ticked the watermark is warn, not critical: it may simply be new.
func (s *Service) gradeLag(at *time.Time, warn, critical time.Duration) Status {
	if at == nil {
		return StatusWarn
	}
	lag := s.now().Sub(*at)
	switch {
	case lag >= critical:
		return StatusCritical
	case lag >= warn:
		return StatusWarn
	default:
		return StatusOK
	}
}

func (s *Service) gradeRate(rate float64) Status {
	switch {
	case rate >= s.thresholds.ErrorRateCritical:
		return StatusCritical
	case rate >= s.thresholds.ErrorRateWarn:
		return StatusWarn
	default:
		return StatusOK
	}
}

// errorRate returns failed/(failed+processed) over the sampling window
func (s *Service) errorRate(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	since := s.now().Add(-s.thresholds.ErrorRateWindow)
	counts, err := s.events.CountByStatusSince(ctx, tenantID, since)
	if err != nil {
		return 0, err
	}
	failed := counts[webhook.EventStatusFailed]
	total := failed + counts[webhook.EventStatusProcessed]
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}

func worst(statuses ...Status) Status {
	out := StatusOK
	for _, st := range statuses {
		if st.rank() > out.rank() {
			out = st
		}
	}
	return out
}
