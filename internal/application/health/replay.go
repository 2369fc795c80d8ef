package health

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/webhook"
)

// defaultReplayLimit bounds one replay sweep.
const defaultReplayLimit = 100

// ReplayOptions narrows a replay sweep
type ReplayOptions struct {
	// Since restricts the sweep to events received at or after this time
	Since *time.Time
	// EventType restricts the sweep to one event type
	EventType *string
	// Limit caps the number of events considered; zero means the default
	Limit int
	// DryRun reports the candidates without reprocessing them
	DryRun bool
}

// ReplayReport summarizes one replay sweep
type ReplayReport struct {
	DryRun     bool     `json:"dry_run"`
	Candidates int      `json:"candidates"`
	Enqueued   int      `json:"enqueued"`
	Failed     int      `json:"failed"`
	EventIDs   []string `json:"event_ids"`
}

// ReplayFailed queues a tenant's failed webhook deliveries for re-processing
// on the task runner. Individual submit failures are counted, not fatal, so
// one bad event cannot stop the sweep.
func (s *Service) ReplayFailed(ctx context.Context, tenantID uuid.UUID, opts ReplayOptions) (*ReplayReport, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultReplayLimit
	}

	failed := webhook.EventStatusFailed
	events, err := s.events.FindForTenant(ctx, tenantID, webhook.EventFilter{
		Status:    &failed,
		EventType: opts.EventType,
		Since:     opts.Since,
		Filter:    shared.Filter{PageSize: limit, Page: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("health: list failed events: %w", err)
	}

	report := &ReplayReport{
		DryRun:     opts.DryRun,
		Candidates: len(events),
		EventIDs:   make([]string, 0, len(events)),
	}
	for _, event := range events {
		report.EventIDs = append(report.EventIDs, event.EventID)
	}
	if opts.DryRun {
		return report, nil
	}

	for _, event := range events {
		if err := s.replays.ScheduleReplay(tenantID, event.EventID); err != nil {
			report.Failed++
			s.logger.Warn("Failed to queue replay",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
			continue
		}
		report.Enqueued++
	}

	s.logger.Info("Replay sweep queued",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("candidates", report.Candidates),
		zap.Int("enqueued", report.Enqueued),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
