package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/pixelrelay/internal/capi"
	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/metrics"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
)

const (
	// MaxChunkSize is the largest chunk the conversions API accepts.
	MaxChunkSize       = capi.MaxEventsPerRequest
	DefaultMaxAttempts = 3

	// markTimeout bounds the bookkeeping after a call, which must complete
	// even when the run's context was cancelled mid-flight.
	markTimeout = 10 * time.Second
)

// Config tunes dispatch runs.
type Config struct {
	ChunkSize   int
	MaxAttempts int
}

// Summary describes one dispatch run.
type Summary struct {
	ChannelID string
	Chunks    int
	Sent      int
	Failed    int
	// LastError is the delivery error that stopped the run, if any.
	LastError string
}

// Service runs dispatch for channels.
type Service struct {
	channels  ChannelRepository
	events    Repository
	deliverer Deliverer
	queue     Enqueuer
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
}

// NewService creates a dispatch service. Chunk size is clamped to
// [1, MaxChunkSize]; max attempts defaults to 3.
func NewService(channels ChannelRepository, events Repository, deliverer Deliverer, queue Enqueuer, cfg Config) *Service {
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > MaxChunkSize {
		cfg.ChunkSize = MaxChunkSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Service{
		channels:  channels,
		events:    events,
		deliverer: deliverer,
		queue:     queue,
		cfg:       cfg,
		log:       logger.Default().With("component", "dispatch"),
		now:       time.Now,
	}
}

// MaxAttempts is the configured attempt cap.
func (s *Service) MaxAttempts() int { return s.cfg.MaxAttempts }

// DispatchChannel delivers the channel's dispatchable events chunk by
// chunk. Delivery failures are recorded on the events and reported in the
// summary; the returned error is reserved for storage problems.
func (s *Service) DispatchChannel(ctx context.Context, channelID string) (*Summary, error) {
	sum := &Summary{ChannelID: channelID}

	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return sum, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	if !ch.Active {
		s.log.Info("skipping dispatch for inactive channel", "channel", channelID)
		return sum, nil
	}

	for ctx.Err() == nil {
		batch, err := s.events.Dispatchable(ctx, ch.ID, s.cfg.MaxAttempts, s.cfg.ChunkSize)
		if err != nil {
			return sum, fmt.Errorf("select dispatchable events: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		sum.Chunks++

		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}

		resp, sendErr := s.deliverer.Send(ctx, *ch, batch)

		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
		if sendErr != nil {
			err = s.events.MarkFailed(markCtx, ids, failureOutcome(sendErr, s.now()))
			cancel()
			if err != nil {
				return sum, fmt.Errorf("mark chunk failed: %w", err)
			}
			metrics.DispatchChunks.WithLabelValues("failed").Inc()
			metrics.DispatchEvents.WithLabelValues("failed").Add(float64(len(ids)))
			sum.Failed += len(ids)
			sum.LastError = sendErr.Error()
			s.log.Warn("chunk delivery failed", "channel", ch.ID, "events", len(ids), "error", sendErr)
			break
		}

		err = s.events.MarkSent(markCtx, ids, Outcome{
			TraceID:        resp.TraceID,
			EventsReceived: resp.EventsReceived,
			Response:       resp.Body,
			At:             s.now().UTC(),
		})
		cancel()
		if err != nil {
			return sum, fmt.Errorf("mark chunk sent: %w", err)
		}
		metrics.DispatchChunks.WithLabelValues("sent").Inc()
		metrics.DispatchEvents.WithLabelValues("sent").Add(float64(len(ids)))
		sum.Sent += len(ids)
		if resp.EventsReceived != len(ids) {
			s.log.Warn("platform accepted fewer events than sent",
				"channel", ch.ID, "sent", len(ids), "received", resp.EventsReceived, "fbtrace_id", resp.TraceID)
		}

		if len(batch) < s.cfg.ChunkSize {
			break
		}
	}

	if sum.Chunks > 0 {
		s.log.Info("dispatch run finished", "channel", ch.ID, "chunks", sum.Chunks, "sent", sum.Sent, "failed", sum.Failed)
	}
	return sum, nil
}

// RetryFailed moves failed events back to Pending with a fresh attempt
// budget and queues the channel. An empty ids list retries every Failed
// event of the channel.
func (s *Service) RetryFailed(ctx context.Context, channelID string, ids []string) (int, error) {
	n, err := s.events.RetryFailed(ctx, channelID, ids)
	if err != nil {
		return 0, fmt.Errorf("retry failed events: %w", err)
	}
	if n == 0 {
		return 0, ErrNothingToRetry
	}
	task := domain.DispatchTask{ChannelID: channelID, EnqueuedAt: s.now().UTC(), Reason: "operator_retry"}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.log.Warn("enqueue after retry failed", "channel", channelID, "error", err)
	}
	s.log.Info("failed events re-queued", "channel", channelID, "events", n)
	return n, nil
}

// ChannelsDue lists channels that still have dispatchable events.
func (s *Service) ChannelsDue(ctx context.Context) ([]string, error) {
	return s.events.ChannelsWithDispatchable(ctx, s.cfg.MaxAttempts)
}

func failureOutcome(err error, at time.Time) Outcome {
	o := Outcome{Error: err.Error(), At: at.UTC()}
	var apiErr *capi.APIError
	if errors.As(err, &apiErr) {
		o.Response = apiErr.Body
		o.TraceID = apiErr.TraceID
	}
	return o
}
