package executor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/python-sandbox/internal/executor"
	"github.com/sakif/python-sandbox/internal/executor/executortest"
)

func TestNewPool_InvalidSize(t *testing.T) {
	_, err := executor.NewPool(0, executortest.NewLauncher(executortest.Echo), testLogger())
	assert.Error(t, err)
}

func TestPool_ConcurrentCallersGetOwnWorker(t *testing.T) {
	release := make(chan struct{})
	var inFlight sync.WaitGroup
	inFlight.Add(3)

	launcher := executortest.NewLauncher(func(ctx context.Context, req executor.ExecutionRequest) *executor.ExecutionResponse {
		inFlight.Done()
		select {
		case <-release:
		case <-ctx.Done():
			return nil
		}
		return executor.Success(req.ID, "ok\n", "", nil)
	})

	pool, err := executor.NewPool(3, launcher, testLogger())
	require.NoError(t, err)
	defer pool.Close()
	assert.Equal(t, 3, pool.Size())

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			resp, err := pool.Run(context.Background(), request(id, 5*time.Second))
			assert.NoError(t, err)
			assert.True(t, resp.OK)
		}(id)
	}

	// All three requests reach a context at the same time, each on its own.
	inFlight.Wait()
	close(release)
	wg.Wait()

	channels := launcher.Channels()
	require.Len(t, channels, 3)
	for _, ch := range channels {
		assert.Len(t, ch.Posted(), 1)
	}
}

func TestPool_WaitsForIdleWorker(t *testing.T) {
	release := make(chan struct{})
	launcher := executortest.NewLauncher(func(ctx context.Context, req executor.ExecutionRequest) *executor.ExecutionResponse {
		select {
		case <-release:
		case <-ctx.Done():
			return nil
		}
		return executor.Success(req.ID, "", "", nil)
	})

	pool, err := executor.NewPool(1, launcher, testLogger())
	require.NoError(t, err)
	defer pool.Close()

	go func() {
		_, _ = pool.Run(context.Background(), request("busy", 5*time.Second))
	}()
	require.Eventually(t, func() bool { return launcher.Last() != nil }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	resp, err := pool.Run(ctx, request("waiting", 5*time.Second))
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestPool_Warm(t *testing.T) {
	launcher := executortest.NewLauncher(executortest.Echo)
	pool, err := executor.NewPool(2, launcher, testLogger())
	require.NoError(t, err)

	pool.Warm(context.Background())
	require.Eventually(t, func() bool { return len(launcher.Channels()) == 2 }, time.Second, 5*time.Millisecond)

	// Warm contexts are reused, not relaunched.
	_, err = pool.Run(context.Background(), request("a", time.Second))
	require.NoError(t, err)
	assert.Len(t, launcher.Channels(), 2)

	pool.Close()
	for _, ch := range launcher.Channels() {
		assert.True(t, ch.Terminated())
	}
}

func TestPool_ClosedRejectsRuns(t *testing.T) {
	pool, err := executor.NewPool(1, executortest.NewLauncher(executortest.Echo), testLogger())
	require.NoError(t, err)
	pool.Close()
	pool.Close()

	resp, err := pool.Run(context.Background(), request("late", time.Second))
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, executor.ErrPoolClosed)
}
