package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/metrics"
	"github.com/ignite/pixelrelay/internal/pkg/distlock"
	"github.com/ignite/pixelrelay/internal/queue"
	"github.com/ignite/pixelrelay/internal/service/dispatch"
)

// =============================================================================
// DISPATCH WORKER POOL: drains channels named by queued tasks
// =============================================================================
// Each consumer takes a task off the queue, acquires the channel's lock and
// runs one dispatch pass. The lock keeps two workers from selecting the same
// pending events; a task for a channel whose lock is busy is dropped (or left
// on SQS) because the holder's pass or the next sweep will cover it.

// ErrChannelBusy is returned to the queue when another worker holds the channel.
var ErrChannelBusy = errors.New("channel dispatch already running")

// Dispatcher runs one dispatch pass for a channel.
type Dispatcher interface {
	DispatchChannel(ctx context.Context, channelID string) (*dispatch.Summary, error)
}

// LockProvider mints per-channel locks.
type LockProvider interface {
	For(key string) distlock.DistLock
}

// DispatchWorkerPool consumes dispatch tasks with a fixed number of goroutines.
type DispatchWorkerPool struct {
	queue      queue.Queue
	dispatcher Dispatcher
	locks      LockProvider
	workers    int

	depthInterval time.Duration
}

// NewDispatchWorkerPool creates a pool with workers consumers.
func NewDispatchWorkerPool(q queue.Queue, d Dispatcher, locks LockProvider, workers int) *DispatchWorkerPool {
	if workers <= 0 {
		workers = 4
	}
	return &DispatchWorkerPool{
		queue:         q,
		dispatcher:    d,
		locks:         locks,
		workers:       workers,
		depthInterval: 15 * time.Second,
	}
}

// Start runs the consumers and blocks until ctx is cancelled and every
// in-flight pass has returned.
func (p *DispatchWorkerPool) Start(ctx context.Context) {
	log.Printf("[DispatchWorker] Starting %d consumers", p.workers)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.queue.Consume(ctx, p.Handle); err != nil {
				log.Printf("[DispatchWorker] consumer exited: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reportDepth(ctx)
	}()

	wg.Wait()
	log.Println("[DispatchWorker] Stopped")
}

// Handle runs one task under the channel lock.
func (p *DispatchWorkerPool) Handle(ctx context.Context, task domain.DispatchTask) error {
	var summary *dispatch.Summary
	ran, err := distlock.WithLock(ctx, p.locks.For("dispatch:"+task.ChannelID), func(ctx context.Context) error {
		var err error
		summary, err = p.dispatcher.DispatchChannel(ctx, task.ChannelID)
		return err
	})
	if err != nil {
		return err
	}
	if !ran {
		return ErrChannelBusy
	}
	if summary != nil && summary.Chunks > 0 {
		log.Printf("[DispatchWorker] channel=%s reason=%s chunks=%d sent=%d failed=%d",
			task.ChannelID, task.Reason, summary.Chunks, summary.Sent, summary.Failed)
	}
	return nil
}

func (p *DispatchWorkerPool) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(p.depthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.Len(ctx)
			if err != nil {
				continue
			}
			metrics.QueueDepth.Set(float64(n))
		}
	}
}
