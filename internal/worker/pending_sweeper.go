package worker

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/queue"
)

// DefaultSweepInterval is how often the sweeper looks for channels with
// undelivered events.
const DefaultSweepInterval = time.Minute

// ChannelSource lists channels that still have dispatchable events.
type ChannelSource interface {
	ChannelsDue(ctx context.Context) ([]string, error)
}

// PendingSweeper re-enqueues a dispatch task for every active channel with
// pending or retryable events. It recovers tasks dropped by a busy lock, a
// full queue or a restart, and spaces out redelivery of failed chunks.
type PendingSweeper struct {
	source      ChannelSource
	queue       queue.Queue
	interval    time.Duration
	concurrency int
	now         func() time.Time
}

// NewPendingSweeper creates a sweeper. concurrency bounds parallel enqueues.
func NewPendingSweeper(source ChannelSource, q queue.Queue, interval time.Duration, concurrency int) *PendingSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &PendingSweeper{source: source, queue: q, interval: interval, concurrency: concurrency, now: time.Now}
}

// Start sweeps once immediately, then on every tick until ctx is cancelled.
func (s *PendingSweeper) Start(ctx context.Context) {
	log.Printf("[PendingSweeper] Starting (interval=%s)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil {
			log.Printf("[PendingSweeper] sweep error: %v", err)
		} else if n > 0 {
			log.Printf("[PendingSweeper] enqueued %d channels", n)
		}

		select {
		case <-ctx.Done():
			log.Println("[PendingSweeper] Stopping")
			return
		case <-ticker.C:
		}
	}
}

// Sweep enqueues one task per due channel and returns how many were enqueued.
func (s *PendingSweeper) Sweep(ctx context.Context) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	channels, err := s.source.ChannelsDue(queryCtx)
	if err != nil {
		return 0, err
	}

	results := make([]bool, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range channels {
		i, id := i, id
		g.Go(func() error {
			task := domain.DispatchTask{ChannelID: id, EnqueuedAt: s.now().UTC(), Reason: "sweep"}
			if err := s.queue.Enqueue(gctx, task); err != nil {
				log.Printf("[PendingSweeper] enqueue %s: %v", id, err)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n, nil
}
