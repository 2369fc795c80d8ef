package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/application/ingest"
	"github.com/wmsync/backend/internal/application/reconcile"
	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/webhook"
	"github.com/wmsync/backend/internal/infrastructure/cache"
)

const testSecret = "whsec_handler_test"

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type memEventRepo struct {
	events map[string]*webhook.Event
}

func (m *memEventRepo) Save(_ context.Context, event *webhook.Event) error {
	m.events[event.EventID] = event
	return nil
}

func (m *memEventRepo) FindByEventID(_ context.Context, eventID string) (*webhook.Event, error) {
	if e, ok := m.events[eventID]; ok {
		return e, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memEventRepo) FindForTenant(context.Context, uuid.UUID, webhook.EventFilter) ([]webhook.Event, error) {
	return nil, nil
}

func (m *memEventRepo) CountByStatusSince(context.Context, uuid.UUID, time.Time) (map[webhook.EventStatus]int64, error) {
	return nil, nil
}

type memConnectionRepo struct {
	conn *connection.Connection
}

func (m *memConnectionRepo) Save(context.Context, *connection.Connection) error { return nil }

func (m *memConnectionRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*connection.Connection, error) {
	if m.conn != nil && m.conn.ID == id && m.conn.TenantID == tenantID {
		return m.conn, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memConnectionRepo) FindByExternalID(_ context.Context, externalID string) (*connection.Connection, error) {
	if m.conn != nil && m.conn.ExternalID == externalID {
		return m.conn, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memConnectionRepo) FindByTenantAndProvider(context.Context, uuid.UUID, string) (*connection.Connection, error) {
	return nil, shared.ErrNotFound
}

func (m *memConnectionRepo) FindAllActive(context.Context) ([]connection.Connection, error) {
	return nil, nil
}

func (m *memConnectionRepo) UpdateLastSyncedAt(context.Context, uuid.UUID, time.Time) error {
	return nil
}

func (m *memConnectionRepo) UpdateLastWebhookAt(context.Context, uuid.UUID, time.Time) error {
	return nil
}

// nopEngine satisfies reconcile.Engine; every test delivery carries an
// event type the pipeline acknowledges without touching the engine
type nopEngine struct{ reconcile.Engine }

// ---------------------------------------------------------------------------
// Setup
// ---------------------------------------------------------------------------

func newWebhookServer(t *testing.T) (*gin.Engine, *memEventRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := connection.New(uuid.New(), uuid.New(), "shiphero", "conn-ext-1", "tok")
	require.NoError(t, err)
	conn.Activate()

	events := &memEventRepo{events: make(map[string]*webhook.Event)}
	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })

	pipeline := ingest.NewService(
		events,
		&memConnectionRepo{conn: conn},
		nopEngine{},
		store,
		testSecret,
		false,
		zap.NewNop(),
	)

	engine := gin.New()
	h := NewWebhookHandler(pipeline, zap.NewNop())
	engine.POST("/webhooks/trackstar", h.Receive)
	return engine, events
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(engine *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/trackstar", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func eventBody(t *testing.T, eventID, connectionID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event_id":      eventID,
		"event_type":    "return.created",
		"connection_id": connectionID,
		"data":          map[string]string{"id": "ret-1"},
	})
	require.NoError(t, err)
	return body
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestReceive_ValidDelivery(t *testing.T) {
	engine, events := newWebhookServer(t)
	body := eventBody(t, "evt-1", "conn-ext-1")

	w := postWebhook(engine, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			EventID   string `json:"event_id"`
			Duplicate bool   `json:"duplicate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "evt-1", resp.Data.EventID)
	assert.False(t, resp.Data.Duplicate)
	assert.Contains(t, events.events, "evt-1")
}

func TestReceive_PrefixedSignatureAccepted(t *testing.T) {
	engine, _ := newWebhookServer(t)
	body := eventBody(t, "evt-2", "conn-ext-1")

	w := postWebhook(engine, body, "sha256="+sign(body))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReceive_BadSignatureRejected(t *testing.T) {
	engine, events := newWebhookServer(t)
	body := eventBody(t, "evt-3", "conn-ext-1")

	w := postWebhook(engine, body, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, events.events, "rejected deliveries are not recorded")
}

func TestReceive_MissingSignatureRejected(t *testing.T) {
	engine, _ := newWebhookServer(t)
	body := eventBody(t, "evt-4", "conn-ext-1")

	w := postWebhook(engine, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReceive_UnknownConnectionIs404(t *testing.T) {
	engine, events := newWebhookServer(t)
	body := eventBody(t, "evt-5", "conn-unknown")

	w := postWebhook(engine, body, sign(body))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, events.events, "evt-5", "orphan delivery still recorded")
}

func TestReceive_DuplicateAcknowledged(t *testing.T) {
	engine, _ := newWebhookServer(t)
	body := eventBody(t, "evt-6", "conn-ext-1")

	first := postWebhook(engine, body, sign(body))
	require.Equal(t, http.StatusOK, first.Code)

	second := postWebhook(engine, body, sign(body))
	assert.Equal(t, http.StatusOK, second.Code)

	var resp struct {
		Data struct {
			Duplicate bool `json:"duplicate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Duplicate)
}

func TestReceive_MalformedBodyIs400(t *testing.T) {
	engine, _ := newWebhookServer(t)
	body := []byte("{not json")

	w := postWebhook(engine, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
