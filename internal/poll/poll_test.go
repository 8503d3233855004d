package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 5 * time.Millisecond

type fakeViewport struct {
	mu       sync.Mutex
	offset   float64
	restored []float64
}

func (v *fakeViewport) ScrollOffset(View) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset, true
}

func (v *fakeViewport) RestoreScroll(_ View, offset float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.restored = append(v.restored, offset)
}

func (v *fakeViewport) restores() []float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]float64(nil), v.restored...)
}

func TestLoopReschedulesAfterEachFetch(t *testing.T) {
	c := New(context.Background(), nil)
	defer c.StopAll()

	var fetched, delivered atomic.Int32
	c.Start(ViewQueues, tick, func(context.Context) (any, error) {
		fetched.Add(1)
		return "payload", nil
	}, func(data any) {
		assert.Equal(t, "payload", data)
		delivered.Add(1)
	})

	require.Eventually(t, func() bool { return delivered.Load() >= 3 }, time.Second, tick)
	assert.True(t, c.Active(ViewQueues))
}

func TestStopDuringFetchDiscardsResult(t *testing.T) {
	c := New(context.Background(), nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var fetched, delivered atomic.Int32
	c.Start(ViewQueues, tick, func(context.Context) (any, error) {
		if fetched.Add(1) == 1 {
			close(entered)
		}
		<-release
		return "late", nil
	}, func(any) {
		delivered.Add(1)
	})

	<-entered
	c.Stop(ViewQueues)
	close(release)

	assert.Never(t, func() bool { return delivered.Load() > 0 }, 10*tick, tick)
	assert.Equal(t, int32(1), fetched.Load(), "no timer is rescheduled after stop")
	assert.False(t, c.Active(ViewQueues))
}

func TestStopCancelsFetchContext(t *testing.T) {
	c := New(context.Background(), nil)

	entered := make(chan struct{})
	cancelled := make(chan struct{})
	c.Start(ViewTracking, tick, func(ctx context.Context) (any, error) {
		close(entered)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}, func(any) {})

	<-entered
	c.Stop(ViewTracking)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("fetch context was not cancelled")
	}
}

func TestFetchFailureKeepsLoopRunning(t *testing.T) {
	c := New(context.Background(), nil)
	defer c.StopAll()

	var fetched, delivered atomic.Int32
	c.Start(ViewQueues, tick, func(context.Context) (any, error) {
		fetched.Add(1)
		return nil, errors.New("status 503")
	}, func(any) {
		delivered.Add(1)
	})

	require.Eventually(t, func() bool { return fetched.Load() >= 3 }, time.Second, tick)
	assert.Equal(t, int32(0), delivered.Load())

	statuses := c.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "status 503", statuses[0].LastError)
	assert.True(t, statuses[0].Active)
}

func TestNoOverlappingFetches(t *testing.T) {
	c := New(context.Background(), nil)
	defer c.StopAll()

	var inflight, maxInflight, fetched atomic.Int32
	c.Start(ViewQueues, time.Millisecond, func(context.Context) (any, error) {
		n := inflight.Add(1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		inflight.Add(-1)
		fetched.Add(1)
		return nil, nil
	}, func(any) {})

	require.Eventually(t, func() bool { return fetched.Load() >= 5 }, time.Second, tick)
	assert.Equal(t, int32(1), maxInflight.Load())
}

func TestScrollPreservedWhileActive(t *testing.T) {
	vp := &fakeViewport{offset: 42}
	c := New(context.Background(), vp)
	defer c.StopAll()

	var delivered atomic.Int32
	c.Start(ViewQueues, tick, func(context.Context) (any, error) {
		return nil, nil
	}, func(any) {
		delivered.Add(1)
	})

	require.Eventually(t, func() bool { return len(vp.restores()) >= 1 }, time.Second, tick)
	assert.Equal(t, 42.0, vp.restores()[0])
}

func TestNoScrollRestoreAfterStop(t *testing.T) {
	vp := &fakeViewport{offset: 7}
	c := New(context.Background(), vp)

	entered := make(chan struct{})
	release := make(chan struct{})
	c.Start(ViewQueues, tick, func(context.Context) (any, error) {
		close(entered)
		<-release
		return nil, nil
	}, func(any) {})

	<-entered
	c.Stop(ViewQueues)
	close(release)

	assert.Never(t, func() bool { return len(vp.restores()) > 0 }, 10*tick, tick)
}

func TestViewsAreIndependent(t *testing.T) {
	c := New(context.Background(), nil)
	defer c.StopAll()

	var queues, tracking atomic.Int32
	c.Start(ViewQueues, tick, func(context.Context) (any, error) { return nil, nil }, func(any) { queues.Add(1) })
	c.Start(ViewTracking, tick, func(context.Context) (any, error) { return nil, nil }, func(any) { tracking.Add(1) })

	require.Eventually(t, func() bool { return queues.Load() >= 1 && tracking.Load() >= 1 }, time.Second, tick)
	c.Stop(ViewQueues)

	before := tracking.Load()
	require.Eventually(t, func() bool { return tracking.Load() > before }, time.Second, tick)
	assert.False(t, c.Active(ViewQueues))
	assert.True(t, c.Active(ViewTracking))
}

func TestStartRestartsWithNewInterval(t *testing.T) {
	c := New(context.Background(), nil)
	defer c.StopAll()

	noop := func(context.Context) (any, error) { return nil, nil }
	c.Start(ViewQueues, time.Hour, noop, func(any) {})
	c.Start(ViewQueues, 2*time.Hour, noop, func(any) {})

	statuses := c.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, 2*time.Hour, statuses[0].Interval)
	assert.Equal(t, PhaseScheduled, statuses[0].Phase)
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(context.Background(), nil)
	c.Stop(ViewQueues)

	c.Start(ViewQueues, time.Hour, func(context.Context) (any, error) { return nil, nil }, func(any) {})
	c.Stop(ViewQueues)
	c.Stop(ViewQueues)

	statuses := c.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, PhaseStopped, statuses[0].Phase)
}

func TestRefresh(t *testing.T) {
	c := New(context.Background(), nil)

	err := c.Refresh(context.Background(), ViewTracking)
	assert.ErrorIs(t, err, ErrUnknownView)

	var got any
	c.Register(ViewTracking, func(context.Context) (any, error) { return "rows", nil }, func(data any) { got = data })
	require.NoError(t, c.Refresh(context.Background(), ViewTracking))
	assert.Equal(t, "rows", got)
	assert.False(t, c.Active(ViewTracking), "refresh does not start the loop")

	boom := errors.New("boom")
	c.Register(ViewTracking, func(context.Context) (any, error) { return nil, boom }, func(any) { t.Fatal("unexpected data") })
	assert.ErrorIs(t, c.Refresh(context.Background(), ViewTracking), boom)
}

func TestRefreshQueuesBehindLoop(t *testing.T) {
	c := New(context.Background(), nil)
	defer c.StopAll()

	var calls, inflight, maxInflight atomic.Int32
	started := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		if calls.Add(1) == 1 {
			close(started)
			time.Sleep(80 * time.Millisecond)
			return "old", nil
		}
		return "new", nil
	}
	var mu sync.Mutex
	var delivered []any
	onData := func(data any) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, data)
	}
	snapshot := func() []any {
		mu.Lock()
		defer mu.Unlock()
		return append([]any(nil), delivered...)
	}

	c.Register(ViewQueues, fetch, onData)
	refreshed := make(chan error, 1)
	go func() { refreshed <- c.Refresh(context.Background(), ViewQueues) }()
	<-started
	c.Start(ViewQueues, tick, fetch, onData)

	require.NoError(t, <-refreshed)
	require.Eventually(t, func() bool { return len(snapshot()) >= 3 }, time.Second, tick)

	got := snapshot()
	assert.Equal(t, "old", got[0], "the slow refresh lands before any loop result")
	for _, d := range got[1:] {
		assert.Equal(t, "new", d)
	}
	assert.Equal(t, int32(1), maxInflight.Load())
}

func TestOnStatus(t *testing.T) {
	c := New(context.Background(), nil)

	var mu sync.Mutex
	var phases []Phase
	c.OnStatus(func(s Status) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})
	c.Start(ViewQueues, time.Hour, func(context.Context) (any, error) { return nil, nil }, func(any) {})
	c.Stop(ViewQueues)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseScheduled, PhaseStopped}, phases)
}
