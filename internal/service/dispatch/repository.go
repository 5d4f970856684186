package dispatch

import (
	"context"
	"time"

	"github.com/ignite/pixelrelay/internal/capi"
	"github.com/ignite/pixelrelay/internal/domain"
)

// Outcome is what gets recorded on every event of a chunk.
type Outcome struct {
	TraceID        string
	EventsReceived int
	Error          string
	Response       string
	At             time.Time
}

// Repository is the delivery-side view of the event store.
type Repository interface {
	// Dispatchable returns up to limit Pending events, and Failed events
	// whose event id is not held by another Pending or Sent row, with
	// attempts below maxAttempts, oldest event time first.
	Dispatchable(ctx context.Context, channelID string, maxAttempts, limit int) ([]domain.TrackedEvent, error)

	// MarkSent moves the events to Sent and stamps the outcome.
	MarkSent(ctx context.Context, ids []string, o Outcome) error

	// MarkFailed moves the events to Failed, records the outcome and
	// increments each attempt counter once.
	MarkFailed(ctx context.Context, ids []string, o Outcome) error

	// RetryFailed moves Failed events of the channel back to Pending and
	// resets their attempt counters. An empty ids list selects every Failed
	// event of the channel. It returns how many rows moved.
	RetryFailed(ctx context.Context, channelID string, ids []string) (int, error)

	// ChannelsWithDispatchable lists active channels that have at least one
	// dispatchable event.
	ChannelsWithDispatchable(ctx context.Context, maxAttempts int) ([]string, error)
}

// ChannelRepository reads channel configuration.
type ChannelRepository interface {
	Get(ctx context.Context, id string) (*domain.Channel, error)
}

// Deliverer submits one chunk to the conversions API.
type Deliverer interface {
	Send(ctx context.Context, ch domain.Channel, events []domain.TrackedEvent) (*capi.Response, error)
}

// Enqueuer hands a channel to the dispatch workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, task domain.DispatchTask) error
}
