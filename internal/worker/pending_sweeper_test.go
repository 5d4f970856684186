package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/queue"
)

type stubSource struct {
	ids []string
	err error
}

func (s stubSource) ChannelsDue(context.Context) ([]string, error) { return s.ids, s.err }

func TestPendingSweeper_EnqueuesDueChannels(t *testing.T) {
	q := queue.NewMemoryQueue(8)
	s := NewPendingSweeper(stubSource{ids: []string{"c1", "c2", "c3"}}, q, time.Minute, 2)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	depth, _ := q.Len(context.Background())
	assert.Equal(t, int64(3), depth)

	// A channel still waiting is coalesced, not queued twice.
	n, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	depth, _ = q.Len(context.Background())
	assert.Equal(t, int64(3), depth)
}

func TestPendingSweeper_TasksCarrySweepReason(t *testing.T) {
	q := queue.NewMemoryQueue(8)
	s := NewPendingSweeper(stubSource{ids: []string{"c1"}}, q, time.Minute, 1)
	_, err := s.Sweep(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var got domain.DispatchTask
	q.Consume(ctx, func(_ context.Context, task domain.DispatchTask) error {
		got = task
		cancel()
		return nil
	})
	assert.Equal(t, "c1", got.ChannelID)
	assert.Equal(t, "sweep", got.Reason)
}

func TestPendingSweeper_FullQueueCountsOnlyEnqueued(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	s := NewPendingSweeper(stubSource{ids: []string{"c1", "c2"}}, q, time.Minute, 1)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPendingSweeper_SourceError(t *testing.T) {
	s := NewPendingSweeper(stubSource{err: errors.New("boom")}, queue.NewMemoryQueue(1), 0, 0)
	_, err := s.Sweep(context.Background())
	assert.Error(t, err)
	assert.Equal(t, DefaultSweepInterval, s.interval)
}
