package capi

import (
	"fmt"
	"net/http"
)

// ActionSource is always "website": every event reaches the relay from a page.
const ActionSource = "website"

// MaxEventsPerRequest is the platform's per-call limit.
const MaxEventsPerRequest = 1000

// UserData is the platform's user_data object. Hashed identifiers are
// arrays; delivery metadata is sent as plain strings.
type UserData struct {
	Em              []string `json:"em,omitempty"`
	Ph              []string `json:"ph,omitempty"`
	Fn              []string `json:"fn,omitempty"`
	Ln              []string `json:"ln,omitempty"`
	Ge              []string `json:"ge,omitempty"`
	Db              []string `json:"db,omitempty"`
	Ct              []string `json:"ct,omitempty"`
	St              []string `json:"st,omitempty"`
	Zp              []string `json:"zp,omitempty"`
	Country         []string `json:"country,omitempty"`
	ExternalID      []string `json:"external_id,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	Fbc             string   `json:"fbc,omitempty"`
	Fbp             string   `json:"fbp,omitempty"`
	SubscriptionID  string   `json:"subscription_id,omitempty"`
}

// CustomData is the platform's custom_data object.
type CustomData struct {
	Value        *float64 `json:"value,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	ContentIDs   []string `json:"content_ids,omitempty"`
	ContentType  string   `json:"content_type,omitempty"`
	NumItems     *int     `json:"num_items,omitempty"`
	SearchString string   `json:"search_string,omitempty"`
	OrderID      string   `json:"order_id,omitempty"`
}

// ServerEvent is one entry of the data array.
type ServerEvent struct {
	EventName      string      `json:"event_name"`
	EventTime      int64       `json:"event_time"`
	EventID        string      `json:"event_id,omitempty"`
	EventSourceURL string      `json:"event_source_url,omitempty"`
	ActionSource   string      `json:"action_source"`
	UserData       UserData    `json:"user_data"`
	CustomData     *CustomData `json:"custom_data,omitempty"`
}

// Request is the body of POST /{version}/{pixel_id}/events.
type Request struct {
	Data          []ServerEvent `json:"data"`
	AccessToken   string        `json:"access_token"`
	TestEventCode string        `json:"test_event_code,omitempty"`
}

// Response is a successful submission.
type Response struct {
	EventsReceived int    `json:"events_received"`
	TraceID        string `json:"fbtrace_id"`
	// Body is the raw response, kept for the delivery record.
	Body string `json:"-"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
		TraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// APIError is a non-2xx answer from the conversions API.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int
	TraceID    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("conversions api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("conversions api: status %d: %s (type=%s code=%d)", e.StatusCode, e.Message, e.Type, e.Code)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
