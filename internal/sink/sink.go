// Package sink streams admission outcomes to analytics storage. Records
// carry the event's identity and score but never its hashed identifiers.
package sink

import (
	"context"
	"time"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
)

// Record is one analytics line.
type Record struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	EventName string    `json:"event_name"`
	Status    string    `json:"status"`
	Score     int       `json:"score"`
	EventTime time.Time `json:"event_time"`
	SourceURL string    `json:"source_url"`
}

// NewRecord projects an event onto the analytics shape.
func NewRecord(e domain.TrackedEvent) Record {
	r := Record{
		ID:        e.ID,
		ChannelID: e.ChannelID,
		EventName: string(e.EventName),
		Status:    string(e.Status),
		EventTime: e.EventTime,
		SourceURL: e.SourceURL,
	}
	if e.MatchQuality != nil {
		r.Score = *e.MatchQuality
	}
	return r
}

// LogSink writes each record as a log line.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink on the default logger.
func NewLogSink() *LogSink {
	return &LogSink{log: logger.Default().With("component", "analytics")}
}

func (s *LogSink) Record(_ context.Context, e domain.TrackedEvent) {
	r := NewRecord(e)
	s.log.Info("event admitted",
		"id", r.ID, "channel", r.ChannelID, "event_name", r.EventName,
		"status", r.Status, "score", r.Score, "event_time", r.EventTime.Format(time.RFC3339))
}
