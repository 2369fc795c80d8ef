// Package syncer orchestrates pull-based synchronization: periodic
// incremental passes, delayed full backfills, and the nightly
// reconciliation sweep.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/application/reconcile"
	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/infrastructure/scheduler"
	"github.com/wmsync/backend/internal/infrastructure/telemetry"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
)

var (
	ErrUnknownTaskKind   = errors.New("syncer: unknown task kind")
	ErrNoReplayer        = errors.New("syncer: no replayer configured")
	ErrConnectionMissing = errors.New("syncer: task references no connection")
)

// WMSClient is the aggregator surface the orchestrator pulls from
type WMSClient interface {
	ListOrders(ctx context.Context, accessToken string, filters trackstar.ListFilters, fn func([]trackstar.Order) error) error
	ListProducts(ctx context.Context, accessToken string, filters trackstar.ListFilters, fn func([]trackstar.Product) error) error
	ListInventory(ctx context.Context, accessToken string, filters trackstar.ListFilters, fn func([]trackstar.InventoryItem) error) error
	ListShipments(ctx context.Context, accessToken string, filters trackstar.ListFilters, fn func([]trackstar.Shipment) error) error
	CountOrders(ctx context.Context, accessToken string) (int, error)
}

// Submitter schedules tasks for asynchronous execution
type Submitter interface {
	Submit(task *scheduler.Task) error
}

// Replayer re-processes a stored webhook delivery by event ID
type Replayer interface {
	ReplayEvent(ctx context.Context, eventID string) error
}

// Config holds sync orchestration policy
type Config struct {
	IncrementalInterval time.Duration
	// IncrementalLookback absorbs clock skew and late upstream writes
	IncrementalLookback time.Duration
	BackfillDelay       time.Duration
	BackfillCooldown    time.Duration
	BackfillMaxAttempts int
	NightlyHour         int
	ReconcileWindow     time.Duration
	TaskMaxRetries      int
}

// DefaultConfig returns the default orchestration policy
func DefaultConfig() Config {
	return Config{
		IncrementalInterval: 5 * time.Minute,
		IncrementalLookback: 2 * time.Hour,
		BackfillDelay:       5 * time.Hour,
		BackfillCooldown:    2 * time.Hour,
		BackfillMaxAttempts: 6,
		NightlyHour:         3,
		ReconcileWindow:     30 * 24 * time.Hour,
		TaskMaxRetries:      3,
	}
}

// Service routes scheduled tasks to sync passes. It implements
// scheduler.TaskExecutor.
type Service struct {
	cfg         Config
	client      WMSClient
	engine      reconcile.Engine
	connections connection.Repository
	submitter   Submitter
	replayer    Replayer
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger
	now         func() time.Time

	stopCron context.CancelFunc
	cronDone chan struct{}
}

// NewService creates the sync orchestrator. The submitter, replayer, and
// metrics arrive later through Wire because the task runner needs this
// service as its executor.
func NewService(
	cfg Config,
	client WMSClient,
	engine reconcile.Engine,
	connections connection.Repository,
	logger *zap.Logger,
) *Service {
	def := DefaultConfig()
	if cfg.IncrementalInterval <= 0 {
		cfg.IncrementalInterval = def.IncrementalInterval
	}
	if cfg.IncrementalLookback <= 0 {
		cfg.IncrementalLookback = def.IncrementalLookback
	}
	if cfg.BackfillDelay <= 0 {
		cfg.BackfillDelay = def.BackfillDelay
	}
	if cfg.BackfillCooldown <= 0 {
		cfg.BackfillCooldown = def.BackfillCooldown
	}
	if cfg.BackfillMaxAttempts <= 0 {
		cfg.BackfillMaxAttempts = def.BackfillMaxAttempts
	}
	if cfg.ReconcileWindow <= 0 {
		cfg.ReconcileWindow = def.ReconcileWindow
	}
	if cfg.TaskMaxRetries <= 0 {
		cfg.TaskMaxRetries = def.TaskMaxRetries
	}
	return &Service{
		cfg:         cfg,
		client:      client,
		engine:      engine,
		connections: connections,
		logger:      logger.Named("syncer"),
		now:         time.Now,
	}
}

// Wire injects the collaborators that cannot be constructor arguments: the
// task runner executes this service, so it is built second and handed back
// here. Call once before Start; the cron and worker goroutines read these
// fields afterwards. The replayer and metrics may be nil.
func (s *Service) Wire(submitter Submitter, replayer Replayer, metrics *telemetry.SyncMetrics) {
	s.submitter = submitter
	s.replayer = replayer
	s.metrics = metrics
}

// ---------------------------------------------------------------------------
// Task routing
// ---------------------------------------------------------------------------

// Execute routes one scheduled task by kind
func (s *Service) Execute(ctx context.Context, task *scheduler.Task) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "syncer", string(task.Kind),
		attribute.String(telemetry.SpanAttrTenantID, task.TenantID.String()),
		attribute.String(telemetry.SpanAttrTaskKind, string(task.Kind)),
	)
	defer span.End()

	started := s.now()
	var err error
	switch task.Kind {
	case scheduler.KindIncrementalSync:
		err = s.runIncremental(ctx, task)
	case scheduler.KindDelayedBackfill, scheduler.KindBackfillRetry:
		err = s.runBackfill(ctx, task)
	case scheduler.KindNightlyReconciliation:
		err = s.runNightly(ctx, task)
	case scheduler.KindWebhookReplay:
		err = s.runReplay(ctx, task)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownTaskKind, task.Kind)
	}

	if s.metrics != nil {
		attrs := metric.WithAttributes(telemetry.AttrTaskKind.String(string(task.Kind)))
		s.metrics.SyncDuration.Record(ctx, s.now().Sub(started).Seconds(), attrs)
		if err != nil {
			s.metrics.SyncErrors.Add(ctx, 1, attrs)
		} else {
			s.metrics.SyncPasses.Add(ctx, 1, attrs)
		}
	}
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

// runIncremental syncs a tenant's connections over the incremental lookback
// window. A task bound to one connection syncs only that connection.
func (s *Service) runIncremental(ctx context.Context, task *scheduler.Task) error {
	lookback := s.cfg.IncrementalLookback
	if task.LookbackHours > 0 {
		lookback = time.Duration(task.LookbackHours) * time.Hour
	}

	conns, err := s.connectionsForTask(ctx, task)
	if err != nil {
		return err
	}

	var errs []error
	for i := range conns {
		if err := s.SyncConnection(ctx, &conns[i], lookback); err != nil {
			errs = append(errs, fmt.Errorf("connection %s: %w", conns[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

// runBackfill performs the delayed full-history backfill. The aggregator
// needs hours after connection creation to finish its own upstream sync, so
// the pass first probes the order count: zero orders means the upstream sync
// has not landed yet and the backfill is rescheduled after a cooldown.
func (s *Service) runBackfill(ctx context.Context, task *scheduler.Task) error {
	if task.ConnectionID == uuid.Nil {
		return ErrConnectionMissing
	}
	conn, err := s.connections.FindByID(ctx, task.TenantID, task.ConnectionID)
	if err != nil {
		return fmt.Errorf("syncer: load connection: %w", err)
	}
	if !conn.IsActive() {
		s.logger.Info("Skipping backfill for inactive connection",
			zap.String("connection_id", conn.ID.String()),
			zap.String("status", conn.Status.String()),
		)
		return nil
	}
	if conn.InitialBackfillCompleted() {
		s.logger.Info("Backfill already completed",
			zap.String("connection_id", conn.ID.String()),
		)
		return nil
	}

	count, err := s.client.CountOrders(ctx, conn.AccessToken)
	if err != nil {
		return fmt.Errorf("syncer: backfill probe: %w", err)
	}
	if count == 0 {
		return s.rescheduleBackfill(task, conn)
	}

	// Full history: no updated_date window.
	if err := s.SyncConnection(ctx, conn, 0); err != nil {
		return err
	}

	conn.SetConfig(connection.ConfigKeyInitialBackfillCompleted, "true")
	if err := s.connections.Save(ctx, conn); err != nil {
		return fmt.Errorf("syncer: mark backfill complete: %w", err)
	}
	s.logger.Info("Initial backfill completed",
		zap.String("tenant_id", conn.TenantID.String()),
		zap.String("connection_id", conn.ID.String()),
		zap.Int("probe_order_count", count),
	)
	return nil
}

// rescheduleBackfill submits a retry task after the cooldown, giving up once
// the attempt budget is exhausted
func (s *Service) rescheduleBackfill(task *scheduler.Task, conn *connection.Connection) error {
	attempt := backfillAttempt(task) + 1
	if attempt >= s.cfg.BackfillMaxAttempts {
		s.logger.Error("Backfill attempts exhausted, aggregator never reported orders",
			zap.String("connection_id", conn.ID.String()),
			zap.Int("attempts", attempt),
		)
		return nil
	}
	if s.submitter == nil {
		return errors.New("syncer: no submitter configured for backfill reschedule")
	}

	retry := scheduler.NewTask(scheduler.KindBackfillRetry, conn.TenantID, conn.ID, s.cfg.TaskMaxRetries).
		WithDelay(s.cfg.BackfillCooldown)
	retry.Payload = strconv.Itoa(attempt)

	if err := s.submitter.Submit(retry); err != nil {
		return fmt.Errorf("syncer: reschedule backfill: %w", err)
	}
	s.logger.Info("Aggregator still syncing, backfill rescheduled",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("attempt", attempt),
		zap.Duration("cooldown", s.cfg.BackfillCooldown),
	)
	return nil
}

// backfillAttempt reads the attempt counter carried in the task payload
func backfillAttempt(task *scheduler.Task) int {
	if task.Payload == "" {
		return 0
	}
	n, err := strconv.Atoi(task.Payload)
	if err != nil {
		return 0
	}
	return n
}

// runNightly re-fetches the reconcile window for every connection in the
// task's scope. Connection failures are isolated so one bad credential never
// blocks the rest of the sweep.
func (s *Service) runNightly(ctx context.Context, task *scheduler.Task) error {
	conns, err := s.connectionsForTask(ctx, task)
	if err != nil {
		return err
	}

	var errs []error
	for i := range conns {
		if err := s.SyncConnection(ctx, &conns[i], s.cfg.ReconcileWindow); err != nil {
			s.logger.Error("Nightly reconciliation failed for connection",
				zap.String("tenant_id", conns[i].TenantID.String()),
				zap.String("connection_id", conns[i].ID.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("connection %s: %w", conns[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

// runReplay delegates to the webhook replayer
func (s *Service) runReplay(ctx context.Context, task *scheduler.Task) error {
	if s.replayer == nil {
		return ErrNoReplayer
	}
	return s.replayer.ReplayEvent(ctx, task.Payload)
}

// connectionsForTask resolves the task's connection scope: one connection
// when bound, otherwise every active connection of the tenant
func (s *Service) connectionsForTask(ctx context.Context, task *scheduler.Task) ([]connection.Connection, error) {
	if task.ConnectionID != uuid.Nil {
		conn, err := s.connections.FindByID(ctx, task.TenantID, task.ConnectionID)
		if err != nil {
			return nil, fmt.Errorf("syncer: load connection: %w", err)
		}
		if !conn.IsActive() {
			return nil, nil
		}
		return []connection.Connection{*conn}, nil
	}

	all, err := s.connections.FindAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncer: list active connections: %w", err)
	}
	scoped := make([]connection.Connection, 0, len(all))
	for _, conn := range all {
		if conn.TenantID == task.TenantID {
			scoped = append(scoped, conn)
		}
	}
	return scoped, nil
}

// ---------------------------------------------------------------------------
// Sync pass
// ---------------------------------------------------------------------------

// resourceOrder fixes the fetch sequence so referential lookups see their
// dependencies: products and inventory land before the orders that read the
// inventory snapshots, shipments last.
var resourceOrder = []string{"products", "inventory", "orders", "shipments"}

// SyncConnection pulls all four resources for one connection. A lookback of
// zero fetches full history. The sync watermark advances when the pass
// finishes even if individual resources failed, so a persistently failing
// resource cannot freeze health reporting; the error still propagates for
// retry accounting.
func (s *Service) SyncConnection(ctx context.Context, conn *connection.Connection, lookback time.Duration) error {
	filters := trackstar.ListFilters{}
	if lookback > 0 {
		since := s.now().Add(-lookback)
		filters.UpdatedAfter = &since
	}

	log := s.logger.With(
		zap.String("tenant_id", conn.TenantID.String()),
		zap.String("connection_id", conn.ID.String()),
		zap.String("provider", conn.Provider),
	)

	var errs []error
	for _, resource := range resourceOrder {
		count, err := s.syncResource(ctx, conn, resource, filters)
		if err != nil {
			log.Error("Resource sync failed",
				zap.String("resource", resource),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", resource, err))
			continue
		}
		log.Info("Resource synced",
			zap.String("resource", resource),
			zap.Int("records", count),
		)
		if s.metrics != nil {
			s.metrics.RecordsUpserted.Add(ctx, int64(count),
				metric.WithAttributes(telemetry.AttrResource.String(resource)))
		}
	}

	if err := s.connections.UpdateLastSyncedAt(ctx, conn.ID, s.now()); err != nil {
		errs = append(errs, fmt.Errorf("advance sync watermark: %w", err))
	}
	return errors.Join(errs...)
}

// syncResource pulls one resource type page by page, applying each page as
// it arrives so a late failure keeps earlier pages
func (s *Service) syncResource(ctx context.Context, conn *connection.Connection, resource string, filters trackstar.ListFilters) (int, error) {
	total := 0
	switch resource {
	case "products":
		err := s.client.ListProducts(ctx, conn.AccessToken, filters, func(batch []trackstar.Product) error {
			n, err := s.engine.UpsertProducts(ctx, conn.TenantID, conn.BrandID, batch)
			total += n
			return err
		})
		return total, err
	case "inventory":
		err := s.client.ListInventory(ctx, conn.AccessToken, filters, func(batch []trackstar.InventoryItem) error {
			n, err := s.engine.UpsertInventory(ctx, conn.TenantID, conn.BrandID, batch)
			total += n
			return err
		})
		return total, err
	case "orders":
		err := s.client.ListOrders(ctx, conn.AccessToken, filters, func(batch []trackstar.Order) error {
			n, err := s.engine.UpsertOrders(ctx, conn.TenantID, conn.BrandID, batch)
			total += n
			return err
		})
		return total, err
	case "shipments":
		err := s.client.ListShipments(ctx, conn.AccessToken, filters, func(batch []trackstar.Shipment) error {
			n, err := s.engine.UpsertShipments(ctx, conn.TenantID, conn.BrandID, batch)
			total += n
			return err
		})
		return total, err
	default:
		return 0, fmt.Errorf("syncer: unknown resource %q", resource)
	}
}

// ---------------------------------------------------------------------------
// Scheduling entry points
// ---------------------------------------------------------------------------

// ScheduleInitialSync submits the immediate post-exchange sync covering the
// reconcile window
func (s *Service) ScheduleInitialSync(conn *connection.Connection) error {
	if s.submitter == nil {
		return errors.New("syncer: no submitter configured")
	}
	task := scheduler.NewTask(scheduler.KindIncrementalSync, conn.TenantID, conn.ID, s.cfg.TaskMaxRetries).
		WithLookback(int(s.cfg.ReconcileWindow / time.Hour))
	return s.submitter.Submit(task)
}

// ScheduleDelayedBackfill submits the full-history backfill that runs hours
// after connection creation
func (s *Service) ScheduleDelayedBackfill(conn *connection.Connection) error {
	if s.submitter == nil {
		return errors.New("syncer: no submitter configured")
	}
	task := scheduler.NewTask(scheduler.KindDelayedBackfill, conn.TenantID, conn.ID, s.cfg.TaskMaxRetries).
		WithDelay(s.cfg.BackfillDelay)
	return s.submitter.Submit(task)
}

// TriggerSync submits an immediate incremental pass for one connection; a
// pass already outstanding for the tenant is reported as a duplicate
func (s *Service) TriggerSync(tenantID, connectionID uuid.UUID) error {
	if s.submitter == nil {
		return errors.New("syncer: no submitter configured")
	}
	task := scheduler.NewTask(scheduler.KindIncrementalSync, tenantID, connectionID, s.cfg.TaskMaxRetries)
	return s.submitter.Submit(task)
}

// ScheduleReplay queues one failed webhook delivery for re-processing. The
// task dedups on the event ID, so a sweep can queue many events at once and
// re-queueing an event already waiting is a no-op.
func (s *Service) ScheduleReplay(tenantID uuid.UUID, eventID string) error {
	if s.submitter == nil {
		return errors.New("syncer: no submitter configured")
	}
	task := scheduler.NewTask(scheduler.KindWebhookReplay, tenantID, uuid.Nil, s.cfg.TaskMaxRetries)
	task.Payload = eventID
	if err := s.submitter.Submit(task); err != nil {
		if errors.Is(err, scheduler.ErrDuplicateTask) {
			return nil
		}
		return err
	}
	return nil
}
