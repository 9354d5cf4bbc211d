package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	priority int
	run      func(ctx context.Context) error
}

func (f *fakeJob) Run(ctx context.Context) error { return f.run(ctx) }
func (f *fakeJob) Priority() int                 { return f.priority }

func TestSubmitRunsJobToCompletion(t *testing.T) {
	m := NewManager(context.Background(), 2)
	defer m.Shutdown()

	var ran atomic.Bool
	h := m.Submit(&fakeJob{run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}})

	require.NoError(t, PollUntilDone(context.Background(), h))
	assert.True(t, ran.Load())
	assert.True(t, h.Success())
	assert.False(t, h.Canceled())
}

func TestSubmitPropagatesRunError(t *testing.T) {
	m := NewManager(context.Background(), 1)
	defer m.Shutdown()

	boom := assertBoom{}
	h := m.Submit(&fakeJob{run: func(ctx context.Context) error { return boom }})

	require.NoError(t, PollUntilDone(context.Background(), h))
	assert.False(t, h.Success())
	assert.Equal(t, boom, h.Err())
}

func TestCancelMarksCanceledAndStopsWork(t *testing.T) {
	m := NewManager(context.Background(), 1)
	defer m.Shutdown()

	started := make(chan struct{})
	h := m.Submit(&fakeJob{run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})

	<-started
	h.Cancel()
	require.NoError(t, PollUntilDone(context.Background(), h))

	assert.True(t, h.Canceled())
	assert.False(t, h.Success())
}

func TestCancelOnAlreadyDoneJobIsNoop(t *testing.T) {
	m := NewManager(context.Background(), 1)
	defer m.Shutdown()

	h := m.Submit(&fakeJob{run: func(ctx context.Context) error { return nil }})
	require.NoError(t, PollUntilDone(context.Background(), h))

	h.Cancel()
	assert.True(t, h.Success())
}

func TestLowerPriorityRunsFirst(t *testing.T) {
	m := NewManager(context.Background(), 1)
	defer m.Shutdown()

	var mu sync.Mutex
	var order []int

	block := make(chan struct{})
	first := m.Submit(&fakeJob{priority: 5, run: func(ctx context.Context) error {
		<-block
		return nil
	}})
	_ = first

	var wg sync.WaitGroup
	wg.Add(2)
	m2 := m.Submit(&fakeJob{priority: 10, run: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, 10)
		mu.Unlock()
		wg.Done()
		return nil
	}})
	m1 := m.Submit(&fakeJob{priority: 1, run: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		wg.Done()
		return nil
	}})
	_, _ = m1, m2

	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, 1, order[0], "lower priority value should run before higher")
}

func TestBuildRasterJobInvokesWorkWithTileKey(t *testing.T) {
	key := extents.NewRootKey(0, 0, extents.New(0, 0, 1, 1), extents.MeshSize{}, extents.ImageSize{})

	var gotKey extents.TileKey
	job := NewBuildRasterJob(key, func(ctx context.Context, tk extents.TileKey) error {
		gotKey = tk
		return nil
	})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, key, gotKey)
	assert.Equal(t, -key.Level, job.Priority())
}

func TestQueueLenReflectsPendingJobs(t *testing.T) {
	m := NewManager(context.Background(), 0)
	defer m.Shutdown()

	block := make(chan struct{})
	m.Submit(&fakeJob{run: func(ctx context.Context) error { <-block; return nil }})
	m.Submit(&fakeJob{run: func(ctx context.Context) error { return nil }})

	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, m.QueueLen(), 1)
	close(block)
}

type assertBoom struct{}

func (assertBoom) Error() string { return "boom" }
