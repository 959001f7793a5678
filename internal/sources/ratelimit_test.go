package sources

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	t.Run("allows requests within burst", func(t *testing.T) {
		rl := NewRateLimiter(10, 3)

		require.NotNil(t, rl)
		assert.True(t, rl.Allow())
		assert.True(t, rl.Allow())
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow(), "fourth request exceeds the burst")
	})

	t.Run("supports fractional rates", func(t *testing.T) {
		rl := NewRateLimiter(0.5, 1)

		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})

	t.Run("allows requests after token replenishment", func(t *testing.T) {
		// 100 requests per second means a token every 10ms.
		rl := NewRateLimiter(100, 1)

		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())

		time.Sleep(15 * time.Millisecond)
		assert.True(t, rl.Allow())
	})
}

func TestRateLimiterWait(t *testing.T) {
	t.Run("burst requests are nearly instant", func(t *testing.T) {
		rl := NewRateLimiter(100, 5)

		start := time.Now()
		for i := 0; i < 5; i++ {
			require.NoError(t, rl.Wait(context.Background()))
		}
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("waits for a token after the burst", func(t *testing.T) {
		rl := NewRateLimiter(10, 1)

		require.NoError(t, rl.Wait(context.Background()))

		start := time.Now()
		require.NoError(t, rl.Wait(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})

	t.Run("respects context deadline", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		assert.True(t, rl.Allow())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		// rate.Limiter reports the impossible deadline in its own words
		// rather than returning context.DeadlineExceeded.
		err := rl.Wait(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadline")
	})

	t.Run("returns immediately with a canceled context", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		assert.True(t, rl.Allow())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := rl.Wait(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRateLimiterSetRate(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.SetRate(1000)
	time.Sleep(5 * time.Millisecond)

	assert.True(t, rl.Allow())
}

func TestRateLimiterTokens(t *testing.T) {
	rl := NewRateLimiter(10, 5)

	assert.InDelta(t, 5.0, rl.Tokens(), 0.1)

	rl.Allow()
	rl.Allow()
	assert.InDelta(t, 3.0, rl.Tokens(), 0.1)
}

func TestRateLimiterConcurrency(t *testing.T) {
	rl := NewRateLimiter(1000, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, 100)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := rl.Wait(ctx); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rl.Allow()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("unexpected error during concurrent access: %v", err)
	}
}
