package queue

import (
	"context"
	"sync"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
)

// MemoryQueue is an in-process queue for single-binary deployments and
// tests. Tasks are lost on restart; the pending sweeper recovers them.
type MemoryQueue struct {
	tasks chan domain.DispatchTask

	mu     sync.Mutex
	queued map[string]bool
}

// NewMemoryQueue creates a queue holding at most size tasks.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		tasks:  make(chan domain.DispatchTask, size),
		queued: make(map[string]bool),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task domain.DispatchTask) error {
	if _, err := encode(task); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued[task.ChannelID] {
		return nil
	}
	select {
	case q.tasks <- task:
		q.queued[task.ChannelID] = true
		return nil
	default:
		return ErrFull
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-q.tasks:
			q.mu.Lock()
			delete(q.queued, task.ChannelID)
			q.mu.Unlock()
			if err := h(ctx, task); err != nil {
				logger.Warn("dispatch task failed", "channel", task.ChannelID, "error", err)
			}
		}
	}
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	return int64(len(q.tasks)), nil
}
