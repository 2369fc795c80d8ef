package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/domain/catalog"
	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/inventory"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/shipping"
	"github.com/wmsync/backend/internal/domain/trade"
	"github.com/wmsync/backend/internal/infrastructure/scheduler"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeClient struct {
	orders     []trackstar.Order
	products   []trackstar.Product
	inventory  []trackstar.InventoryItem
	shipments  []trackstar.Shipment
	orderCount int
	countErr   error

	calls       []string
	lastFilters trackstar.ListFilters
	failOn      string
}

func (f *fakeClient) ListOrders(_ context.Context, _ string, filters trackstar.ListFilters, fn func([]trackstar.Order) error) error {
	f.calls = append(f.calls, "orders")
	f.lastFilters = filters
	if f.failOn == "orders" {
		return errors.New("upstream unavailable")
	}
	return fn(f.orders)
}

func (f *fakeClient) ListProducts(_ context.Context, _ string, filters trackstar.ListFilters, fn func([]trackstar.Product) error) error {
	f.calls = append(f.calls, "products")
	f.lastFilters = filters
	if f.failOn == "products" {
		return errors.New("upstream unavailable")
	}
	return fn(f.products)
}

func (f *fakeClient) ListInventory(_ context.Context, _ string, filters trackstar.ListFilters, fn func([]trackstar.InventoryItem) error) error {
	f.calls = append(f.calls, "inventory")
	f.lastFilters = filters
	if f.failOn == "inventory" {
		return errors.New("upstream unavailable")
	}
	return fn(f.inventory)
}

func (f *fakeClient) ListShipments(_ context.Context, _ string, filters trackstar.ListFilters, fn func([]trackstar.Shipment) error) error {
	f.calls = append(f.calls, "shipments")
	f.lastFilters = filters
	if f.failOn == "shipments" {
		return errors.New("upstream unavailable")
	}
	return fn(f.shipments)
}

func (f *fakeClient) CountOrders(context.Context, string) (int, error) {
	return f.orderCount, f.countErr
}

type fakeEngine struct {
	orders    int
	products  int
	inventory int
	shipments int
}

func (f *fakeEngine) UpsertOrder(context.Context, uuid.UUID, uuid.UUID, trackstar.Order) (*trade.Order, error) {
	return nil, nil
}

func (f *fakeEngine) UpsertOrders(_ context.Context, _, _ uuid.UUID, payloads []trackstar.Order) (int, error) {
	f.orders += len(payloads)
	return len(payloads), nil
}

func (f *fakeEngine) UpsertProduct(context.Context, uuid.UUID, uuid.UUID, trackstar.Product) (*catalog.Product, error) {
	return nil, nil
}

func (f *fakeEngine) UpsertProducts(_ context.Context, _, _ uuid.UUID, payloads []trackstar.Product) (int, error) {
	f.products += len(payloads)
	return len(payloads), nil
}

func (f *fakeEngine) UpsertInventoryItem(context.Context, uuid.UUID, uuid.UUID, trackstar.InventoryItem) (*inventory.InventoryItem, error) {
	return nil, nil
}

func (f *fakeEngine) UpsertInventory(_ context.Context, _, _ uuid.UUID, payloads []trackstar.InventoryItem) (int, error) {
	f.inventory += len(payloads)
	return len(payloads), nil
}

func (f *fakeEngine) UpsertShipment(context.Context, uuid.UUID, uuid.UUID, trackstar.Shipment) (*shipping.Shipment, error) {
	return nil, nil
}

func (f *fakeEngine) UpsertShipments(_ context.Context, _, _ uuid.UUID, payloads []trackstar.Shipment) (int, error) {
	f.shipments += len(payloads)
	return len(payloads), nil
}

type fakeConnectionRepo struct {
	conns       map[uuid.UUID]*connection.Connection
	saved       []*connection.Connection
	syncedAt    map[uuid.UUID]time.Time
	syncedCalls int
}

func newFakeConnectionRepo(conns ...*connection.Connection) *fakeConnectionRepo {
	repo := &fakeConnectionRepo{
		conns:    make(map[uuid.UUID]*connection.Connection),
		syncedAt: make(map[uuid.UUID]time.Time),
	}
	for _, c := range conns {
		repo.conns[c.ID] = c
	}
	return repo
}

func (f *fakeConnectionRepo) Save(_ context.Context, conn *connection.Connection) error {
	f.saved = append(f.saved, conn)
	f.conns[conn.ID] = conn
	return nil
}

func (f *fakeConnectionRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*connection.Connection, error) {
	conn, ok := f.conns[id]
	if !ok || conn.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return conn, nil
}

func (f *fakeConnectionRepo) FindByExternalID(_ context.Context, externalID string) (*connection.Connection, error) {
	for _, conn := range f.conns {
		if conn.ExternalID == externalID {
			return conn, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeConnectionRepo) FindByTenantAndProvider(_ context.Context, tenantID uuid.UUID, provider string) (*connection.Connection, error) {
	for _, conn := range f.conns {
		if conn.TenantID == tenantID && conn.Provider == provider {
			return conn, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeConnectionRepo) FindAllActive(context.Context) ([]connection.Connection, error) {
	var out []connection.Connection
	for _, conn := range f.conns {
		if conn.IsActive() {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (f *fakeConnectionRepo) UpdateLastSyncedAt(_ context.Context, id uuid.UUID, at time.Time) error {
	f.syncedAt[id] = at
	f.syncedCalls++
	return nil
}

func (f *fakeConnectionRepo) UpdateLastWebhookAt(_ context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

type fakeSubmitter struct {
	tasks []*scheduler.Task
	err   error
}

func (f *fakeSubmitter) Submit(task *scheduler.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func activeConnection(t *testing.T, tenantID uuid.UUID) *connection.Connection {
	t.Helper()
	conn, err := connection.New(tenantID, uuid.New(), "shiphero", "conn-"+uuid.NewString()[:8], "tok")
	require.NoError(t, err)
	conn.Activate()
	return conn
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSyncConnection_ResourceOrderAndWatermark(t *testing.T) {
	tenantID := uuid.New()
	conn := activeConnection(t, tenantID)
	repo := newFakeConnectionRepo(conn)
	client := &fakeClient{
		products:  []trackstar.Product{{ID: "p1"}},
		inventory: []trackstar.InventoryItem{{ID: "i1", SKU: "S1"}},
		orders:    []trackstar.Order{{ID: "o1"}, {ID: "o2"}},
		shipments: []trackstar.Shipment{{ID: "s1"}},
	}
	engine := &fakeEngine{}
	svc := NewService(DefaultConfig(), client, engine, repo, zap.NewNop())

	err := svc.SyncConnection(context.Background(), conn, 2*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, []string{"products", "inventory", "orders", "shipments"}, client.calls)
	assert.Equal(t, 2, engine.orders)
	assert.Equal(t, 1, engine.products)
	assert.Contains(t, repo.syncedAt, conn.ID)
	require.NotNil(t, client.lastFilters.UpdatedAfter)
}

func TestSyncConnection_WatermarkAdvancesDespiteFailure(t *testing.T) {
	tenantID := uuid.New()
	conn := activeConnection(t, tenantID)
	repo := newFakeConnectionRepo(conn)
	client := &fakeClient{failOn: "orders"}
	svc := NewService(DefaultConfig(), client, &fakeEngine{}, repo, zap.NewNop())

	err := svc.SyncConnection(context.Background(), conn, time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders")

	// Remaining resources still ran and the watermark still moved.
	assert.Equal(t, []string{"products", "inventory", "orders", "shipments"}, client.calls)
	assert.Contains(t, repo.syncedAt, conn.ID)
}

func TestExecute_IncrementalSyncsTenantConnections(t *testing.T) {
	tenantID := uuid.New()
	mine := activeConnection(t, tenantID)
	other := activeConnection(t, uuid.New())
	repo := newFakeConnectionRepo(mine, other)
	client := &fakeClient{}
	svc := NewService(DefaultConfig(), client, &fakeEngine{}, repo, zap.NewNop())

	task := scheduler.NewTask(scheduler.KindIncrementalSync, tenantID, uuid.Nil, 3)
	require.NoError(t, svc.Execute(context.Background(), task))

	assert.Contains(t, repo.syncedAt, mine.ID)
	assert.NotContains(t, repo.syncedAt, other.ID, "other tenants are out of scope")
}

func TestExecute_BackfillProbeZeroReschedules(t *testing.T) {
	tenantID := uuid.New()
	conn := activeConnection(t, tenantID)
	repo := newFakeConnectionRepo(conn)
	client := &fakeClient{orderCount: 0}
	submitter := &fakeSubmitter{}
	svc := NewService(DefaultConfig(), client, &fakeEngine{}, repo, zap.NewNop())
	svc.Wire(submitter, nil, nil)

	task := scheduler.NewTask(scheduler.KindDelayedBackfill, tenantID, conn.ID, 3)
	require.NoError(t, svc.Execute(context.Background(), task))

	require.Len(t, submitter.tasks, 1)
	retry := submitter.tasks[0]
	assert.Equal(t, scheduler.KindBackfillRetry, retry.Kind)
	assert.Equal(t, "1", retry.Payload)
	require.NotNil(t, retry.NextRunAt)
	assert.Empty(t, client.calls, "no resources fetched before the probe passes")
	assert.False(t, conn.InitialBackfillCompleted())
}

func TestExecute_BackfillAttemptsExhausted(t *testing.T) {
	tenantID := uuid.New()
	conn := activeConnection(t, tenantID)
	repo := newFakeConnectionRepo(conn)
	submitter := &fakeSubmitter{}
	cfg := DefaultConfig()
	cfg.BackfillMaxAttempts = 3
	svc := NewService(cfg, &fakeClient{orderCount: 0}, &fakeEngine{}, repo, zap.NewNop())
	svc.Wire(submitter, nil, nil)

	task := scheduler.NewTask(scheduler.KindBackfillRetry, tenantID, conn.ID, 3)
	task.Payload = "2" // next attempt would be the third
	require.NoError(t, svc.Execute(context.Background(), task))
	assert.Empty(t, submitter.tasks, "budget exhausted, no reschedule")
}

func TestExecute_BackfillCompletesAndMarksConnection(t *testing.T) {
	tenantID := uuid.New()
	conn := activeConnection(t, tenantID)
	repo := newFakeConnectionRepo(conn)
	client := &fakeClient{
		orderCount: 42,
		orders:     []trackstar.Order{{ID: "o1"}},
	}
	engine := &fakeEngine{}
	svc := NewService(DefaultConfig(), client, engine, repo, zap.NewNop())
	svc.Wire(&fakeSubmitter{}, nil, nil)

	task := scheduler.NewTask(scheduler.KindDelayedBackfill, tenantID, conn.ID, 3)
	require.NoError(t, svc.Execute(context.Background(), task))

	assert.True(t, conn.InitialBackfillCompleted())
	require.NotEmpty(t, repo.saved)
	assert.Nil(t, client.lastFilters.UpdatedAfter, "backfill fetches full history")
	assert.Equal(t, 1, engine.orders)
}

func TestExecute_BackfillSkipsWhenAlreadyCompleted(t *testing.T) {
	tenantID := uuid.New()
	conn := activeConnection(t, tenantID)
	conn.SetConfig(connection.ConfigKeyInitialBackfillCompleted, "true")
	repo := newFakeConnectionRepo(conn)
	client := &fakeClient{orderCount: 42}
	svc := NewService(DefaultConfig(), client, &fakeEngine{}, repo, zap.NewNop())

	task := scheduler.NewTask(scheduler.KindDelayedBackfill, tenantID, conn.ID, 3)
	require.NoError(t, svc.Execute(context.Background(), task))
	assert.Empty(t, client.calls)
}

func TestExecute_NightlyIsolatesConnectionFailures(t *testing.T) {
	tenantID := uuid.New()
	first := activeConnection(t, tenantID)
	second := activeConnection(t, tenantID)
	repo := newFakeConnectionRepo(first, second)
	client := &fakeClient{failOn: "products"}
	svc := NewService(DefaultConfig(), client, &fakeEngine{}, repo, zap.NewNop())

	task := scheduler.NewTask(scheduler.KindNightlyReconciliation, tenantID, uuid.Nil, 3)
	err := svc.Execute(context.Background(), task)
	require.Error(t, err)

	// Both connections were attempted despite the failures.
	assert.Equal(t, 2, repo.syncedCalls)
}

func TestExecute_UnknownKind(t *testing.T) {
	svc := NewService(DefaultConfig(), &fakeClient{}, &fakeEngine{}, newFakeConnectionRepo(), zap.NewNop())
	task := scheduler.NewTask("bogus", uuid.New(), uuid.Nil, 0)
	assert.ErrorIs(t, svc.Execute(context.Background(), task), ErrUnknownTaskKind)
}

func TestScheduleReplay(t *testing.T) {
	tenantID := uuid.New()
	submitter := &fakeSubmitter{}
	svc := NewService(DefaultConfig(), &fakeClient{}, &fakeEngine{}, newFakeConnectionRepo(), zap.NewNop())
	svc.Wire(submitter, nil, nil)

	require.NoError(t, svc.ScheduleReplay(tenantID, "evt-1"))
	require.NoError(t, svc.ScheduleReplay(tenantID, "evt-2"))

	require.Len(t, submitter.tasks, 2)
	assert.Equal(t, scheduler.KindWebhookReplay, submitter.tasks[0].Kind)
	assert.Equal(t, "evt-1", submitter.tasks[0].Payload)
	assert.Equal(t, "evt-2", submitter.tasks[1].Payload)
	// Each event carries its own dedup key, so one sweep can queue many.
	assert.NotEqual(t, submitter.tasks[0].DedupKey(), submitter.tasks[1].DedupKey())
}

func TestScheduleReplay_DuplicateIsNoOp(t *testing.T) {
	submitter := &fakeSubmitter{err: scheduler.ErrDuplicateTask}
	svc := NewService(DefaultConfig(), &fakeClient{}, &fakeEngine{}, newFakeConnectionRepo(), zap.NewNop())
	svc.Wire(submitter, nil, nil)

	// An event already waiting in the queue is not an error for the sweep.
	assert.NoError(t, svc.ScheduleReplay(uuid.New(), "evt-1"))
}

func TestScheduleDelayedBackfill(t *testing.T) {
	tenantID := uuid.New()
	conn := activeConnection(t, tenantID)
	submitter := &fakeSubmitter{}
	svc := NewService(DefaultConfig(), &fakeClient{}, &fakeEngine{}, newFakeConnectionRepo(conn), zap.NewNop())
	svc.Wire(submitter, nil, nil)

	require.NoError(t, svc.ScheduleDelayedBackfill(conn))
	require.Len(t, submitter.tasks, 1)
	assert.Equal(t, scheduler.KindDelayedBackfill, submitter.tasks[0].Kind)
	require.NotNil(t, submitter.tasks[0].NextRunAt)
	assert.True(t, submitter.tasks[0].NextRunAt.After(time.Now().Add(4*time.Hour)))
}
