package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 1*time.Second, 20)
	assert.NotNil(t, rl)
	assert.Equal(t, 10, rl.rate)
	assert.Equal(t, 1*time.Second, rl.interval)
	assert.Equal(t, 20, rl.capacity)
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		rl := NewRateLimiter(5, 1*time.Second, 5)

		// First 5 requests should be allowed
		for i := 0; i < 5; i++ {
			assert.True(t, rl.Allow("test-key"))
		}

		// 6th request should be denied (rate limit exceeded)
		assert.False(t, rl.Allow("test-key"))
	})

	t.Run("different keys have separate limits", func(t *testing.T) {
		rl := NewRateLimiter(2, 1*time.Second, 2)

		assert.True(t, rl.Allow("key1"))
		assert.True(t, rl.Allow("key2"))
		assert.True(t, rl.Allow("key1"))
		assert.True(t, rl.Allow("key2"))

		// Both should be rate limited now
		assert.False(t, rl.Allow("key1"))
		assert.False(t, rl.Allow("key2"))
	})
}

func TestRateLimiter_AllowN(t *testing.T) {
	t.Run("allows batch requests", func(t *testing.T) {
		rl := NewRateLimiter(10, 1*time.Second, 10)

		assert.True(t, rl.AllowN("test-key", 5))
		assert.True(t, rl.AllowN("test-key", 5))
		assert.False(t, rl.AllowN("test-key", 1))
	})

	t.Run("handles zero requests", func(t *testing.T) {
		rl := NewRateLimiter(1, 1*time.Second, 1)
		assert.True(t, rl.AllowN("test-key", 0))
	})
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(1, 1*time.Second, 1)

	// Use up the rate limit
	assert.True(t, rl.Allow("test-key"))
	assert.False(t, rl.Allow("test-key"))

	// Reset should allow new requests
	rl.Reset("test-key")
	assert.True(t, rl.Allow("test-key"))
}

func TestRateLimiter_WaitIfNeeded(t *testing.T) {
	t.Run("waits for available tokens", func(t *testing.T) {
		rl := NewRateLimiter(2, 100*time.Millisecond, 2)

		// Use up tokens
		rl.Allow("test-key")
		rl.Allow("test-key")

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := rl.WaitIfNeeded(ctx, "test-key")
		elapsed := time.Since(start)

		assert.NoError(t, err)
		assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		rl := NewRateLimiter(1, 1*time.Hour, 1)

		// Use up token
		rl.Allow("test-key")

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := rl.WaitIfNeeded(ctx, "test-key")
		assert.Error(t, err)
		assert.Equal(t, context.DeadlineExceeded, err)
	})
}
