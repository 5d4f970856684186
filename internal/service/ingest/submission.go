package ingest

import (
	"github.com/ignite/pixelrelay/internal/domain"
)

// Submission is one event as a client sends it.
type Submission struct {
	ChannelID  string                  `json:"channel_id" validate:"required,max=64"`
	EventName  string                  `json:"event_name" validate:"required,max=100"`
	EventID    string                  `json:"event_id,omitempty" validate:"omitempty,max=256"`
	EventTime  int64                   `json:"event_time,omitempty" validate:"omitempty,min=0"`
	SourceURL  string                  `json:"source_url" validate:"required,url,max=2048"`
	VisitorID  string                  `json:"visitor_id,omitempty" validate:"omitempty,max=128"`
	UserData   *domain.UserDataPayload `json:"user_data,omitempty"`
	CustomData *domain.CustomData      `json:"custom_data,omitempty"`
}

// RequestMeta is what the transport knows about the sender.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
	// Origin is the Origin header, or the Referer when Origin is absent.
	Origin    string
	Transport string
}

// Result is the outcome of admitting one event. It is also returned next
// to ErrDuplicate so callers can report the audit row.
type Result struct {
	Event  *domain.TrackedEvent
	Filled []string
}

// Rejection is a batch entry that was not admitted.
type Rejection struct {
	Index int
	Err   error
	// Event is set for duplicates, which still leave an audit row.
	Event *domain.TrackedEvent
}

// BatchResult splits a batch into admitted and rejected entries.
type BatchResult struct {
	Accepted []Result
	Rejected []Rejection
}
