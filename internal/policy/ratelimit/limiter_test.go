package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{HostRPS: 10, HostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "http://example.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "http://EXAMPLE.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, l.Hosts())
}

func TestLimiterSeparatesHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{HostRPS: 0.01, HostBurst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "http://a.test/"))
	require.NoError(t, l.Wait(ctx, "http://b.test/"))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2, l.Hosts())
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 100 {
		require.NoError(t, l.Wait(context.Background(), "http://a.test/"))
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{HostRPS: 0.01, HostBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "http://a.test/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "http://a.test/"))
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", hostOf("https://Example.COM:8443/x"))
	assert.Equal(t, "unknown", hostOf("::"))
	assert.Equal(t, "unknown", hostOf("/relative"))
}
