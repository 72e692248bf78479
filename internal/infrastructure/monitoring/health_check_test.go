package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAll_AggregatesResults(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("music", func(context.Context) (bool, error) { return true, nil }, time.Minute, time.Second)
	h.AddCheck("store", func(context.Context) (bool, error) { return false, errors.New("connection refused") }, time.Minute, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	require.Len(t, status.Checks, 2)
	assert.True(t, status.Checks["music"].Healthy)
	assert.False(t, status.Checks["store"].Healthy)
	assert.Equal(t, "connection refused", status.Checks["store"].Detail)
	assert.False(t, h.IsReady(context.Background()))
}

func TestCheckAll_RunsChecksConcurrently(t *testing.T) {
	h := NewHealthChecker()

	// Each check blocks until every check has started. Serial execution
	// would trip the per-check timeout instead.
	var started sync.WaitGroup
	started.Add(3)
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()
	for i := 0; i < 3; i++ {
		h.AddCheck(string(rune('a'+i)), func(ctx context.Context) (bool, error) {
			started.Done()
			select {
			case <-allStarted:
				return true, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}, time.Minute, time.Second)
	}

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
}

func TestCheckAll_HonoursTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("stuck", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, time.Minute, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks["stuck"].Detail, "deadline")
}

func TestCheckAll_EmptyCheckerIsHealthy(t *testing.T) {
	h := NewHealthChecker()
	assert.True(t, h.IsReady(context.Background()))
}
