package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("first claim succeeds, second does not", func(t *testing.T) {
		claimed, err := store.MarkProcessed(ctx, "key-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = store.MarkProcessed(ctx, "key-1", time.Minute)
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("expired claim can be re-claimed", func(t *testing.T) {
		claimed, err := store.MarkProcessed(ctx, "key-2", 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, claimed)

		time.Sleep(20 * time.Millisecond)

		claimed, err = store.MarkProcessed(ctx, "key-2", time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
	})
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "known", time.Minute)
	require.NoError(t, err)

	processed, err = store.IsProcessed(ctx, "known")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestInMemoryIdempotencyStore_ConcurrentClaims(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.MarkProcessed(ctx, "contested", time.Minute)
			require.NoError(t, err)
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one claim must win")
}

func TestInMemoryIdempotencyStore_CleanupAndClose(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "a", 5*time.Millisecond)
	require.NoError(t, err)
	_, err = store.MarkProcessed(ctx, "b", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Size())

	time.Sleep(10 * time.Millisecond)
	store.cleanup()
	assert.Equal(t, 1, store.Size())

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close is idempotent")
}
