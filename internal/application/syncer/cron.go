package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/infrastructure/scheduler"
)

// Start launches the periodic triggers: the incremental ticker and the
// nightly reconciliation sweep. Both only submit tasks; execution happens on
// the task runner's workers.
func (s *Service) Start(ctx context.Context) error {
	if s.submitter == nil {
		return errors.New("syncer: no submitter configured")
	}
	if s.stopCron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.stopCron = cancel
	s.cronDone = make(chan struct{})

	go s.cronLoop(ctx)

	s.logger.Info("Sync triggers started",
		zap.Duration("incremental_interval", s.cfg.IncrementalInterval),
		zap.Int("nightly_hour", s.cfg.NightlyHour),
	)
	return nil
}

// Stop halts the periodic triggers. Already-submitted tasks keep running on
// the task runner.
func (s *Service) Stop() {
	if s.stopCron == nil {
		return
	}
	s.stopCron()
	<-s.cronDone
	s.stopCron = nil
	s.logger.Info("Sync triggers stopped")
}

func (s *Service) cronLoop(ctx context.Context) {
	defer close(s.cronDone)

	ticker := time.NewTicker(s.cfg.IncrementalInterval)
	defer ticker.Stop()

	nightly := time.NewTimer(s.untilNextNightly())
	defer nightly.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.submitPerTenant(ctx, scheduler.KindIncrementalSync, 0)
		case <-nightly.C:
			s.submitPerTenant(ctx, scheduler.KindNightlyReconciliation, int(s.cfg.ReconcileWindow/time.Hour))
			nightly.Reset(s.untilNextNightly())
		}
	}
}

// submitPerTenant submits one task per tenant with an active connection.
// Duplicate submissions mean the previous pass is still outstanding; they
// collapse by design and are only logged.
func (s *Service) submitPerTenant(ctx context.Context, kind scheduler.TaskKind, lookbackHours int) {
	conns, err := s.connections.FindAllActive(ctx)
	if err != nil {
		s.logger.Error("Failed to list active connections for trigger",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(conns))
	for _, conn := range conns {
		if _, ok := seen[conn.TenantID]; ok {
			continue
		}
		seen[conn.TenantID] = struct{}{}

		task := scheduler.NewTask(kind, conn.TenantID, uuid.Nil, s.cfg.TaskMaxRetries)
		if lookbackHours > 0 {
			task.WithLookback(lookbackHours)
		}
		if err := s.submitter.Submit(task); err != nil {
			if errors.Is(err, scheduler.ErrDuplicateTask) {
				s.logger.Debug("Previous pass still outstanding, trigger collapsed",
					zap.String("kind", string(kind)),
					zap.String("tenant_id", conn.TenantID.String()),
				)
				continue
			}
			s.logger.Error("Failed to submit trigger task",
				zap.String("kind", string(kind)),
				zap.String("tenant_id", conn.TenantID.String()),
				zap.Error(err),
			)
		}
	}
}

// untilNextNightly returns the wait until the next occurrence of the
// configured nightly hour
func (s *Service) untilNextNightly() time.Duration {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.NightlyHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
