package connect

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
)

type fakeLinker struct {
	exchangeResp *trackstar.ExchangeResponse
	exchangeErr  error

	updates []string
	cancels []string
	notes   []string
	keys    []string
}

func (f *fakeLinker) CreateLinkToken(context.Context) (*trackstar.LinkTokenResponse, error) {
	return &trackstar.LinkTokenResponse{LinkToken: "lt_123"}, nil
}

func (f *fakeLinker) ExchangeAuthCode(_ context.Context, req trackstar.ExchangeRequest) (*trackstar.ExchangeResponse, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeResp, nil
}

func (f *fakeLinker) UpdateOrder(_ context.Context, _, orderID string, _ trackstar.OrderUpdate, key string) error {
	f.updates = append(f.updates, orderID)
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeLinker) CancelOrder(_ context.Context, _, orderID string, key string) error {
	f.cancels = append(f.cancels, orderID)
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeLinker) AddOrderNote(_ context.Context, _, orderID, note string, key string) error {
	f.notes = append(f.notes, note)
	f.keys = append(f.keys, key)
	return nil
}

type fakeConnectionRepo struct {
	byID map[uuid.UUID]*connection.Connection
}

func newFakeConnectionRepo() *fakeConnectionRepo {
	return &fakeConnectionRepo{byID: make(map[uuid.UUID]*connection.Connection)}
}

func (f *fakeConnectionRepo) Save(_ context.Context, conn *connection.Connection) error {
	f.byID[conn.ID] = conn
	return nil
}

func (f *fakeConnectionRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*connection.Connection, error) {
	if conn, ok := f.byID[id]; ok && conn.TenantID == tenantID {
		return conn, nil
	}
	return nil, shared.ErrNotFound
}

func (f *fakeConnectionRepo) FindByExternalID(_ context.Context, externalID string) (*connection.Connection, error) {
	for _, conn := range f.byID {
		if conn.ExternalID == externalID {
			return conn, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeConnectionRepo) FindByTenantAndProvider(_ context.Context, tenantID uuid.UUID, provider string) (*connection.Connection, error) {
	for _, conn := range f.byID {
		if conn.TenantID == tenantID && conn.Provider == provider {
			return conn, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeConnectionRepo) FindAllActive(context.Context) ([]connection.Connection, error) {
	return nil, nil
}

func (f *fakeConnectionRepo) UpdateLastSyncedAt(context.Context, uuid.UUID, time.Time) error {
	return nil
}

func (f *fakeConnectionRepo) UpdateLastWebhookAt(context.Context, uuid.UUID, time.Time) error {
	return nil
}

type fakeScheduler struct {
	initial  int
	backfill int
}

func (f *fakeScheduler) ScheduleInitialSync(*connection.Connection) error {
	f.initial++
	return nil
}

func (f *fakeScheduler) ScheduleDelayedBackfill(*connection.Connection) error {
	f.backfill++
	return nil
}

func TestExchange_CreatesActiveConnectionAndSchedulesSync(t *testing.T) {
	linker := &fakeLinker{exchangeResp: &trackstar.ExchangeResponse{
		AccessToken:      "at_1",
		ConnectionID:     "conn-ext-1",
		IntegrationName:  "shiphero",
		AvailableActions: []string{"get_orders", "update_orders"},
	}}
	repo := newFakeConnectionRepo()
	sched := &fakeScheduler{}
	svc := NewService(linker, repo, sched, zap.NewNop())

	tenantID := uuid.New()
	conn, err := svc.Exchange(context.Background(), tenantID, uuid.New(), "code-1")
	require.NoError(t, err)

	assert.True(t, conn.IsActive())
	assert.Equal(t, "shiphero", conn.Provider)
	assert.Equal(t, "conn-ext-1", conn.ExternalID)
	assert.Equal(t, "at_1", conn.AccessToken)
	assert.Equal(t, []string{"get_orders", "update_orders"}, conn.AvailableActions)
	assert.Equal(t, 1, sched.initial)
	assert.Equal(t, 1, sched.backfill)
	assert.Contains(t, repo.byID, conn.ID)
}

func TestExchange_RelinkRotatesCredential(t *testing.T) {
	tenantID := uuid.New()
	existing, err := connection.New(tenantID, uuid.New(), "shiphero", "conn-old", "at_old")
	require.NoError(t, err)
	existing.MarkError()

	repo := newFakeConnectionRepo()
	repo.byID[existing.ID] = existing
	linker := &fakeLinker{exchangeResp: &trackstar.ExchangeResponse{
		AccessToken:     "at_new",
		ConnectionID:    "conn-new",
		IntegrationName: "shiphero",
	}}
	svc := NewService(linker, repo, &fakeScheduler{}, zap.NewNop())

	conn, err := svc.Exchange(context.Background(), tenantID, uuid.New(), "code-2")
	require.NoError(t, err)

	assert.Equal(t, existing.ID, conn.ID, "existing record reused")
	assert.Equal(t, "at_new", conn.AccessToken)
	assert.Equal(t, "conn-new", conn.ExternalID)
	assert.True(t, conn.IsActive(), "errored connection reactivated")
}

func TestExchange_RequiresAuthCode(t *testing.T) {
	svc := NewService(&fakeLinker{}, newFakeConnectionRepo(), &fakeScheduler{}, zap.NewNop())
	_, err := svc.Exchange(context.Background(), uuid.New(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrMissingAuthCode)
}

func TestOutboundMutations(t *testing.T) {
	tenantID := uuid.New()
	conn, err := connection.New(tenantID, uuid.New(), "shiphero", "conn-1", "at_1")
	require.NoError(t, err)
	conn.Activate()

	repo := newFakeConnectionRepo()
	repo.byID[conn.ID] = conn
	linker := &fakeLinker{}
	svc := NewService(linker, repo, &fakeScheduler{}, zap.NewNop())
	ctx := context.Background()

	status := "cancelled"
	require.NoError(t, svc.UpdateOrder(ctx, tenantID, conn.ID, "ord-1", trackstar.OrderUpdate{Status: &status}))
	require.NoError(t, svc.CancelOrder(ctx, tenantID, conn.ID, "ord-2"))
	require.NoError(t, svc.AddOrderNote(ctx, tenantID, conn.ID, "ord-3", "expedite"))

	assert.Equal(t, []string{"ord-1"}, linker.updates)
	assert.Equal(t, []string{"ord-2"}, linker.cancels)
	assert.Equal(t, []string{"expedite"}, linker.notes)
	for _, key := range linker.keys {
		assert.NotEmpty(t, key, "every mutation carries an idempotency key")
	}
}

func TestOutboundMutations_InactiveConnectionRefused(t *testing.T) {
	tenantID := uuid.New()
	conn, err := connection.New(tenantID, uuid.New(), "shiphero", "conn-1", "at_1")
	require.NoError(t, err)

	repo := newFakeConnectionRepo()
	repo.byID[conn.ID] = conn
	svc := NewService(&fakeLinker{}, repo, &fakeScheduler{}, zap.NewNop())

	err = svc.CancelOrder(context.Background(), tenantID, conn.ID, "ord-1")
	assert.ErrorIs(t, err, connection.ErrNotActive)
}

func TestOutboundMutations_UnknownConnection(t *testing.T) {
	svc := NewService(&fakeLinker{}, newFakeConnectionRepo(), &fakeScheduler{}, zap.NewNop())
	err := svc.UpdateOrder(context.Background(), uuid.New(), uuid.New(), "ord-1", trackstar.OrderUpdate{})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}
