package ingest

import (
	"context"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/service/profile"
)

// ChannelRepository reads channel configuration.
type ChannelRepository interface {
	// Get returns the channel or ErrChannelNotFound.
	Get(ctx context.Context, id string) (*domain.Channel, error)
}

// EventRepository persists admitted events.
type EventRepository interface {
	// FindByEventID returns the most recent event for the channel carrying the
	// client-supplied event id, preferring rows that hold the id (Pending or
	// Sent). Returns ErrEventNotFound when there is none.
	FindByEventID(ctx context.Context, channelID, eventID string) (*domain.TrackedEvent, error)

	// Insert stores a new event and stamps its timestamps. It returns
	// ErrDuplicate when the (channel, event id) pair is already held by a
	// Pending or Sent event.
	Insert(ctx context.Context, e *domain.TrackedEvent) error
}

// Enricher fills gaps in an identity bundle from the profile store.
type Enricher interface {
	Enrich(ctx context.Context, sub profile.Subject, u domain.HashedUserData) (*profile.Enrichment, error)
}

// Enqueuer hands a channel to the dispatch workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, task domain.DispatchTask) error
}

// Sink receives every persisted event for analytics. Implementations must
// not block admission.
type Sink interface {
	Record(ctx context.Context, e domain.TrackedEvent)
}
