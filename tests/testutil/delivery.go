// Package testutil provides shared helpers for the sync engine's tests.
package testutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// SignatureHeader is the header carrying the HMAC digest on inbound
// deliveries.
const SignatureHeader = "x-trackstar-signature"

var deliverySeq atomic.Int64

// Delivery builds aggregator webhook bodies for tests. Zero-value fields are
// filled with sensible defaults by Body.
type Delivery struct {
	EventID         string
	EventType       string
	ConnectionID    string
	IntegrationName string
	Data            interface{}
}

// NewDelivery creates a delivery with a unique event ID.
func NewDelivery(eventType, connectionID string, data interface{}) Delivery {
	return Delivery{
		EventID:      fmt.Sprintf("evt_test_%06d", deliverySeq.Add(1)),
		EventType:    eventType,
		ConnectionID: connectionID,
		Data:         data,
	}
}

// Body serializes the delivery the way the aggregator sends it.
func (d Delivery) Body(t *testing.T) []byte {
	t.Helper()

	data, err := json.Marshal(d.Data)
	require.NoError(t, err, "marshal delivery data")

	integration := d.IntegrationName
	if integration == "" {
		integration = "shiphero"
	}

	body, err := json.Marshal(map[string]interface{}{
		"event_id":         d.EventID,
		"event_type":       d.EventType,
		"connection_id":    d.ConnectionID,
		"integration_name": integration,
		"data":             json.RawMessage(data),
	})
	require.NoError(t, err, "marshal delivery body")
	return body
}

// Sign computes the hex HMAC-SHA256 digest the sender would put in the
// signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
