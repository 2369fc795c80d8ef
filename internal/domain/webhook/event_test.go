package webhook

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_Validation(t *testing.T) {
	_, err := NewEvent(uuid.New(), "", "trackstar", "order.updated", nil)
	assert.ErrorIs(t, err, ErrInvalidEventID)

	_, err = NewEvent(uuid.New(), "evt-1", "trackstar", "", nil)
	assert.ErrorIs(t, err, ErrInvalidEventType)
}

func TestEvent_Lifecycle(t *testing.T) {
	evt, err := NewEvent(uuid.New(), "evt-1", "trackstar", "order.updated", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, EventStatusPending, evt.Status)
	assert.False(t, evt.IsProcessed())

	evt.MarkFailed(errors.New("boom"))
	assert.Equal(t, EventStatusFailed, evt.Status)
	assert.Equal(t, 1, evt.Attempts)
	assert.Equal(t, "boom", evt.Error)

	evt.MarkProcessed(42 * time.Millisecond)
	assert.True(t, evt.IsProcessed())
	assert.Equal(t, 2, evt.Attempts)
	assert.Empty(t, evt.Error, "a successful retry clears the recorded error")
	assert.Equal(t, int64(42), evt.ProcessingMillis)
	require.NotNil(t, evt.ProcessedAt)
}

func TestComputeIdempotencyKey_IgnoresFormatting(t *testing.T) {
	tenantID := uuid.New()

	compact := []byte(`{"id":"ord-1","total":10}`)
	spaced := []byte(`{ "total": 10, "id": "ord-1" }`)

	a := ComputeIdempotencyKey(tenantID, nil, "order", "updated", compact)
	b := ComputeIdempotencyKey(tenantID, nil, "order", "updated", spaced)
	assert.Equal(t, a, b, "whitespace and key order must not change the key")
	assert.Len(t, a, 64)
}

func TestComputeIdempotencyKey_DistinguishesScope(t *testing.T) {
	tenantID := uuid.New()
	brandID := uuid.New()
	payload := []byte(`{"id":"ord-1"}`)

	base := ComputeIdempotencyKey(tenantID, nil, "order", "updated", payload)

	assert.NotEqual(t, base, ComputeIdempotencyKey(uuid.New(), nil, "order", "updated", payload))
	assert.NotEqual(t, base, ComputeIdempotencyKey(tenantID, &brandID, "order", "updated", payload))
	assert.NotEqual(t, base, ComputeIdempotencyKey(tenantID, nil, "shipment", "updated", payload))
	assert.NotEqual(t, base, ComputeIdempotencyKey(tenantID, nil, "order", "created", payload))
	assert.NotEqual(t, base, ComputeIdempotencyKey(tenantID, nil, "order", "updated", []byte(`{"id":"ord-2"}`)))
}

func TestComputeIdempotencyKey_NonJSONPayload(t *testing.T) {
	tenantID := uuid.New()

	// payloads that fail to parse are hashed as-is
	a := ComputeIdempotencyKey(tenantID, nil, "order", "updated", []byte("not json"))
	b := ComputeIdempotencyKey(tenantID, nil, "order", "updated", []byte("not json"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}
