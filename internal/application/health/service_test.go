package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/webhook"
)

type fakeConnectionRepo struct {
	conn *connection.Connection
}

func (f *fakeConnectionRepo) Save(context.Context, *connection.Connection) error { return nil }

func (f *fakeConnectionRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*connection.Connection, error) {
	if f.conn != nil && f.conn.ID == id && f.conn.TenantID == tenantID {
		return f.conn, nil
	}
	return nil, shared.ErrNotFound
}

func (f *fakeConnectionRepo) FindByExternalID(context.Context, string) (*connection.Connection, error) {
	return nil, shared.ErrNotFound
}

func (f *fakeConnectionRepo) FindByTenantAndProvider(context.Context, uuid.UUID, string) (*connection.Connection, error) {
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

type fakeEventRepo struct {
	counts map[webhook.EventStatus]int64
	failed []webhook.Event
}

func (f *fakeEventRepo) Save(context.Context, *webhook.Event) error { return nil }

func (f *fakeEventRepo) FindByEventID(context.Context, string) (*webhook.Event, error) {
	return nil, shared.ErrNotFound
}

func (f *fakeEventRepo) FindForTenant(_ context.Context, _ uuid.UUID, filter webhook.EventFilter) ([]webhook.Event, error) {
	if filter.Status != nil && *filter.Status == webhook.EventStatusFailed {
		limit := filter.Limit()
		if len(f.failed) > limit {
			return f.failed[:limit], nil
		}
		return f.failed, nil
	}
	return nil, nil
}

func (f *fakeEventRepo) CountByStatusSince(context.Context, uuid.UUID, time.Time) (map[webhook.EventStatus]int64, error) {
	return f.counts, nil
}

type fakeReplayScheduler struct {
	queued []string
	failOn string
}

func (f *fakeReplayScheduler) ScheduleReplay(_ uuid.UUID, eventID string) error {
	if eventID == f.failOn {
		return errors.New("queue full")
	}
	f.queued = append(f.queued, eventID)
	return nil
}

func testConnection(t *testing.T, tenantID uuid.UUID) *connection.Connection {
	t.Helper()
	conn, err := connection.New(tenantID, uuid.New(), "shiphero", "conn-1", "tok")
	require.NoError(t, err)
	conn.Activate()
	return conn
}

func newService(conns *fakeConnectionRepo, events *fakeEventRepo, replays ReplayScheduler) *Service {
	return NewService(conns, events, replays, DefaultThresholds(), zap.NewNop())
}

func TestCheckConnection_Grades(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name        string
		syncAgo     time.Duration
		webhookAgo  time.Duration
		counts      map[webhook.EventStatus]int64
		wantSync    Status
		wantWebhook Status
		wantRate    Status
		wantOverall Status
	}{
		{
			name:       "all fresh",
			syncAgo:    time.Minute,
			webhookAgo: 30 * time.Second,
			counts: map[webhook.EventStatus]int64{
				webhook.EventStatusProcessed: 200,
			},
			wantSync: StatusOK, wantWebhook: StatusOK, wantRate: StatusOK, wantOverall: StatusOK,
		},
		{
			name:       "sync lagging",
			syncAgo:    7 * time.Minute,
			webhookAgo: time.Minute,
			wantSync:   StatusWarn, wantWebhook: StatusOK, wantRate: StatusOK, wantOverall: StatusWarn,
		},
		{
			name:       "sync stalled",
			syncAgo:    20 * time.Minute,
			webhookAgo: time.Minute,
			wantSync:   StatusCritical, wantWebhook: StatusOK, wantRate: StatusOK, wantOverall: StatusCritical,
		},
		{
			name:       "webhooks stalled",
			syncAgo:    time.Minute,
			webhookAgo: 11 * time.Minute,
			wantSync:   StatusOK, wantWebhook: StatusCritical, wantRate: StatusOK, wantOverall: StatusCritical,
		},
		{
			name:       "high error rate",
			syncAgo:    time.Minute,
			webhookAgo: time.Minute,
			counts: map[webhook.EventStatus]int64{
				webhook.EventStatusProcessed: 90,
				webhook.EventStatusFailed:    10,
			},
			wantSync: StatusOK, wantWebhook: StatusOK, wantRate: StatusCritical, wantOverall: StatusCritical,
		},
		{
			name:       "elevated error rate",
			syncAgo:    time.Minute,
			webhookAgo: time.Minute,
			counts: map[webhook.EventStatus]int64{
				webhook.EventStatusProcessed: 98,
				webhook.EventStatusFailed:    2,
			},
			wantSync: StatusOK, wantWebhook: StatusOK, wantRate: StatusWarn, wantOverall: StatusWarn,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tenantID := uuid.New()
			conn := testConnection(t, tenantID)
			syncedAt := now.Add(-tc.syncAgo)
			webhookAt := now.Add(-tc.webhookAgo)
			conn.LastSyncedAt = &syncedAt
			conn.LastWebhookAt = &webhookAt

			svc := newService(&fakeConnectionRepo{conn: conn}, &fakeEventRepo{counts: tc.counts}, &fakeReplayScheduler{})
			svc.now = func() time.Time { return now }

			report, err := svc.CheckConnection(context.Background(), tenantID, conn.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSync, report.SyncStatus)
			assert.Equal(t, tc.wantWebhook, report.WebhookStatus)
			assert.Equal(t, tc.wantRate, report.ErrorRateStatus)
			assert.Equal(t, tc.wantOverall, report.Overall)
		})
	}
}

func TestCheckConnection_NeverSyncedIsWarn(t *testing.T) {
	tenantID := uuid.New()
	conn := testConnection(t, tenantID)
	svc := newService(&fakeConnectionRepo{conn: conn}, &fakeEventRepo{}, &fakeReplayScheduler{})

	report, err := svc.CheckConnection(context.Background(), tenantID, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, report.SyncStatus)
	assert.Equal(t, StatusWarn, report.WebhookStatus)
	assert.Empty(t, report.SyncLag)
}

func TestCheckConnection_Unknown(t *testing.T) {
	svc := newService(&fakeConnectionRepo{}, &fakeEventRepo{}, &fakeReplayScheduler{})
	_, err := svc.CheckConnection(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func failedEvent(t *testing.T, id string) webhook.Event {
	t.Helper()
	event, err := webhook.NewEvent(uuid.New(), id, "trackstar", "order.created", []byte("{}"))
	require.NoError(t, err)
	event.MarkFailed(errors.New("boom"))
	return *event
}

func TestReplayFailed_DryRunListsWithoutQueueing(t *testing.T) {
	events := &fakeEventRepo{failed: []webhook.Event{
		failedEvent(t, "evt-1"),
		failedEvent(t, "evt-2"),
	}}
	replays := &fakeReplayScheduler{}
	svc := newService(&fakeConnectionRepo{}, events, replays)

	report, err := svc.ReplayFailed(context.Background(), uuid.New(), ReplayOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, []string{"evt-1", "evt-2"}, report.EventIDs)
	assert.Zero(t, report.Enqueued)
	assert.Empty(t, replays.queued)
}

func TestReplayFailed_QueuesEveryCandidate(t *testing.T) {
	events := &fakeEventRepo{failed: []webhook.Event{
		failedEvent(t, "evt-1"),
		failedEvent(t, "evt-2"),
		failedEvent(t, "evt-3"),
	}}
	replays := &fakeReplayScheduler{}
	svc := newService(&fakeConnectionRepo{}, events, replays)

	report, err := svc.ReplayFailed(context.Background(), uuid.New(), ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Enqueued)
	assert.Equal(t, []string{"evt-1", "evt-2", "evt-3"}, replays.queued)
}

func TestReplayFailed_IsolatesSubmitFailures(t *testing.T) {
	events := &fakeEventRepo{failed: []webhook.Event{
		failedEvent(t, "evt-1"),
		failedEvent(t, "evt-poison"),
		failedEvent(t, "evt-3"),
	}}
	replays := &fakeReplayScheduler{failOn: "evt-poison"}
	svc := newService(&fakeConnectionRepo{}, events, replays)

	report, err := svc.ReplayFailed(context.Background(), uuid.New(), ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 2, report.Enqueued)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"evt-1", "evt-3"}, replays.queued)
}

func TestReplayFailed_HonorsLimit(t *testing.T) {
	events := &fakeEventRepo{failed: []webhook.Event{
		failedEvent(t, "evt-1"),
		failedEvent(t, "evt-2"),
		failedEvent(t, "evt-3"),
	}}
	replays := &fakeReplayScheduler{}
	svc := newService(&fakeConnectionRepo{}, events, replays)

	report, err := svc.ReplayFailed(context.Background(), uuid.New(), ReplayOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Len(t, replays.queued, 2)
}
