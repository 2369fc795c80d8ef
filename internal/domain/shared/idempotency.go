package shared

import (
	"context"
	"time"
)

// IdempotencyStore stores processed delivery keys to prevent duplicate
// processing. The webhook pipeline uses it as defense-in-depth on top of the
// persisted event record: the aggregator may redeliver the same logical
// change under a fresh event ID, in which case only the content-derived key
// catches the duplicate.
type IdempotencyStore interface {
	// MarkProcessed marks a key as processed with a TTL.
	// Returns true if the key was newly marked, false if it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a key has already been processed
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is the time-to-live for processed keys. After this duration the
	// same key can be processed again.
	TTL time.Duration

	// Enabled determines whether content-key checking is enabled
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
