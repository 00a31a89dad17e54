package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainLimiterSpacesSameHost(t *testing.T) {
	limiter := NewDomainLimiter(40*time.Millisecond, RateLimiterSettings{})
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.Wait(ctx, "x.com"))
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestDomainLimiterIsolatesHosts(t *testing.T) {
	limiter := NewDomainLimiter(time.Second, RateLimiterSettings{})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "a.com"))
	require.NoError(t, limiter.Wait(ctx, "b.com"))
	require.NoError(t, limiter.Wait(ctx, "C.com"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDomainLimiterHonoursCancellation(t *testing.T) {
	limiter := NewDomainLimiter(time.Minute, RateLimiterSettings{})
	require.NoError(t, limiter.Wait(context.Background(), "x.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Wait(ctx, "x.com"), context.DeadlineExceeded)
}

func TestDomainLimiterTokenBucket(t *testing.T) {
	limiter := NewDomainLimiter(0, RateLimiterSettings{Requests: 2, Window: 200 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(ctx, "x.com"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestDomainLimiterDisabled(t *testing.T) {
	var nilLimiter *DomainLimiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), "x.com"))
	assert.NoError(t, NewDomainLimiter(0, RateLimiterSettings{}).Wait(context.Background(), "x.com"))
}
