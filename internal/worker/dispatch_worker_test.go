package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/pkg/distlock"
	"github.com/ignite/pixelrelay/internal/queue"
	"github.com/ignite/pixelrelay/internal/service/dispatch"
)

type stubDispatcher struct {
	mu    sync.Mutex
	calls []string
	err   error
	block chan struct{}
}

func (d *stubDispatcher) DispatchChannel(_ context.Context, id string) (*dispatch.Summary, error) {
	d.mu.Lock()
	d.calls = append(d.calls, id)
	d.mu.Unlock()
	if d.block != nil {
		<-d.block
	}
	if d.err != nil {
		return nil, d.err
	}
	return &dispatch.Summary{ChannelID: id, Chunks: 1, Sent: 3}, nil
}

func (d *stubDispatcher) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func TestDispatchWorkerPool_HandleRunsUnderLock(t *testing.T) {
	d := &stubDispatcher{}
	locks := distlock.NewProvider(nil, nil, "test:", time.Minute)
	pool := NewDispatchWorkerPool(queue.NewMemoryQueue(8), d, locks, 1)

	err := pool.Handle(context.Background(), domain.DispatchTask{ChannelID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, d.Calls())

	// The lock is released after the pass.
	l := locks.For("dispatch:c1")
	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	_ = l.Release(context.Background())
}

func TestDispatchWorkerPool_BusyChannel(t *testing.T) {
	d := &stubDispatcher{}
	locks := distlock.NewProvider(nil, nil, "test:", time.Minute)
	pool := NewDispatchWorkerPool(queue.NewMemoryQueue(8), d, locks, 1)

	held := locks.For("dispatch:c1")
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release(context.Background())

	err = pool.Handle(context.Background(), domain.DispatchTask{ChannelID: "c1"})
	assert.ErrorIs(t, err, ErrChannelBusy)
	assert.Empty(t, d.Calls())

	// Other channels are unaffected.
	require.NoError(t, pool.Handle(context.Background(), domain.DispatchTask{ChannelID: "c2"}))
}

func TestDispatchWorkerPool_PropagatesDispatchError(t *testing.T) {
	d := &stubDispatcher{err: errors.New("db down")}
	pool := NewDispatchWorkerPool(queue.NewMemoryQueue(8), d, distlock.NewProvider(nil, nil, "", 0), 1)

	err := pool.Handle(context.Background(), domain.DispatchTask{ChannelID: "c1"})
	assert.EqualError(t, err, "db down")
}

func TestDispatchWorkerPool_StartConsumesUntilCancelled(t *testing.T) {
	q := queue.NewMemoryQueue(8)
	d := &stubDispatcher{}
	pool := NewDispatchWorkerPool(q, d, distlock.NewProvider(nil, nil, "", 0), 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	require.NoError(t, q.Enqueue(ctx, domain.DispatchTask{ChannelID: "c1"}))
	require.NoError(t, q.Enqueue(ctx, domain.DispatchTask{ChannelID: "c2"}))

	assert.Eventually(t, func() bool { return len(d.Calls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.ElementsMatch(t, []string{"c1", "c2"}, d.Calls())
}
