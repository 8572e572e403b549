package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/cache"
)

func ok(context.Context) error { return nil }

func TestRegistry_Empty(t *testing.T) {
	healthy, statuses := NewRegistry(time.Second).CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistry_AllHealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Add("database", ok)
	r.Add("cache", ok)

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.Equal(t, "cache", statuses[1].Name)
}

func TestRegistry_OneDown(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Add("database", ok)
	r.Add("cache", func(context.Context) error { return errors.New("dial tcp: connection refused") })

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Healthy)
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "dial tcp: connection refused", statuses[1].Detail)
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	r.Add("database", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Contains(t, statuses[0].Detail, "deadline exceeded")
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistry_ProbesRunInParallel(t *testing.T) {
	r := NewRegistry(time.Second)
	for range 4 {
		r.Add("slow", func(context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}

	start := time.Now()
	healthy, _ := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Less(t, time.Since(start), 180*time.Millisecond)
}

func TestRegistry_ConcurrentAddAndCheck(t *testing.T) {
	r := NewRegistry(time.Second)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Add("probe", ok)
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()

	_, statuses := r.CheckAll(context.Background())
	assert.Len(t, statuses, 10)
}

func TestRegistry_CacheProbe(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Add("cache", cache.NewMemoryCache().Ping)

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 1)
}
