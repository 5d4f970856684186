package domain

import (
	"time"
	"unicode/utf8"
)

// EventStatus is the delivery state of a tracked event.
type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusSent      EventStatus = "sent"
	StatusFailed    EventStatus = "failed"
	StatusDuplicate EventStatus = "duplicate"
	StatusSkipped   EventStatus = "skipped"
)

// IsTerminal is true for states nothing moves out of.
func (s EventStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusDuplicate || s == StatusSkipped
}

// CanTransitionTo enforces the monotone lifecycle. A Failed event below the
// attempt cap is redelivered in place (Failed to Sent or Failed again);
// Failed returns to Pending only through an operator retry.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed || next == StatusDuplicate || next == StatusSkipped
	case StatusFailed:
		return next == StatusPending || next == StatusSent || next == StatusFailed
	}
	return false
}

// Blocks reports whether an existing event in this state makes a new
// event with the same channel and event id a duplicate.
func (s EventStatus) Blocks() bool {
	return s == StatusPending || s == StatusSent
}

// EventName is either a standard platform event or a custom name.
type EventName string

const (
	EventPageView             EventName = "PageView"
	EventViewContent          EventName = "ViewContent"
	EventSearch               EventName = "Search"
	EventAddToCart            EventName = "AddToCart"
	EventAddToWishlist        EventName = "AddToWishlist"
	EventInitiateCheckout     EventName = "InitiateCheckout"
	EventAddPaymentInfo       EventName = "AddPaymentInfo"
	EventPurchase             EventName = "Purchase"
	EventLead                 EventName = "Lead"
	EventCompleteRegistration EventName = "CompleteRegistration"
	EventContact              EventName = "Contact"
	EventCustomizeProduct     EventName = "CustomizeProduct"
	EventDonate               EventName = "Donate"
	EventFindLocation         EventName = "FindLocation"
	EventSchedule             EventName = "Schedule"
	EventStartTrial           EventName = "StartTrial"
	EventSubmitApplication    EventName = "SubmitApplication"
	EventSubscribe            EventName = "Subscribe"
)

// MaxEventNameLength bounds custom event names.
const MaxEventNameLength = 100

var standardEvents = map[EventName]bool{
	EventPageView:             true,
	EventViewContent:          true,
	EventSearch:               true,
	EventAddToCart:            true,
	EventAddToWishlist:        true,
	EventInitiateCheckout:     true,
	EventAddPaymentInfo:       true,
	EventPurchase:             true,
	EventLead:                 true,
	EventCompleteRegistration: true,
	EventContact:              true,
	EventCustomizeProduct:     true,
	EventDonate:               true,
	EventFindLocation:         true,
	EventSchedule:             true,
	EventStartTrial:           true,
	EventSubmitApplication:    true,
	EventSubscribe:            true,
}

func (n EventName) IsStandard() bool { return standardEvents[n] }

// Valid is true for any standard name or a non-empty custom name of at
// most MaxEventNameLength characters.
func (n EventName) Valid() bool {
	if n.IsStandard() {
		return true
	}
	l := utf8.RuneCountInString(string(n))
	return l > 0 && l <= MaxEventNameLength
}

// CustomData is the optional commerce payload of an event.
type CustomData struct {
	Value        *float64 `json:"value,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	ContentIDs   []string `json:"content_ids,omitempty"`
	ContentType  string   `json:"content_type,omitempty"`
	NumItems     *int     `json:"num_items,omitempty"`
	SearchString string   `json:"search_string,omitempty"`
	OrderID      string   `json:"order_id,omitempty"`
}

// IsEmpty reports whether no field is set.
func (c *CustomData) IsEmpty() bool {
	return c == nil || (c.Value == nil && c.Currency == "" && len(c.ContentIDs) == 0 &&
		c.ContentType == "" && c.NumItems == nil && c.SearchString == "" && c.OrderID == "")
}

// TrackedEvent is one conversion event and its delivery record.
type TrackedEvent struct {
	ID             string         `json:"id" db:"id"`
	ChannelID      string         `json:"channel_id" db:"channel_id"`
	EventID        string         `json:"event_id,omitempty" db:"event_id"`
	EventName      EventName      `json:"event_name" db:"event_name"`
	EventTime      time.Time      `json:"event_time" db:"event_time"`
	SourceURL      string         `json:"source_url" db:"source_url"`
	VisitorID      string         `json:"visitor_id,omitempty" db:"visitor_id"`
	UserData       HashedUserData `json:"user_data" db:"user_data"`
	CustomData     *CustomData    `json:"custom_data,omitempty" db:"custom_data"`
	MatchQuality   *int           `json:"match_quality,omitempty" db:"match_quality"`
	Status         EventStatus    `json:"status" db:"status"`
	Attempts       int            `json:"attempts" db:"attempts"`
	LastError      string         `json:"last_error,omitempty" db:"last_error"`
	LastResponse   string         `json:"last_response,omitempty" db:"last_response"`
	TraceID        string         `json:"trace_id,omitempty" db:"trace_id"`
	EventsReceived int            `json:"events_received,omitempty" db:"events_received"`
	DuplicateOf    string         `json:"duplicate_of,omitempty" db:"duplicate_of"`
	SentAt         *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Dispatchable reports whether the event may be picked for a delivery chunk.
// Exhausted events stay Failed until an operator retries them.
func (e TrackedEvent) Dispatchable(maxAttempts int) bool {
	if e.Attempts >= maxAttempts {
		return false
	}
	return e.Status == StatusPending || e.Status == StatusFailed
}

// DispatchTask asks a worker to deliver a channel's pending events.
type DispatchTask struct {
	ChannelID  string    `json:"channel_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Reason     string    `json:"reason,omitempty"`
}
