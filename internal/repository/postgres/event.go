package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
	"github.com/ignite/pixelrelay/internal/service/dispatch"
	"github.com/ignite/pixelrelay/internal/service/ingest"
)

// EventRepo stores tracked events. It implements ingest.EventRepository
// and dispatch.Repository.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, channel_id, event_id, event_name, event_time, source_url, visitor_id,
	user_data, custom_data, match_quality, status, attempts, last_error, last_response,
	trace_id, events_received, duplicate_of, sent_at, created_at, updated_at`

// heldKey is true when another live row holds the event id of e.
const heldKey = `e.event_id <> '' AND EXISTS (
	SELECT 1 FROM tracked_events h
	WHERE h.channel_id = e.channel_id AND h.event_id = e.event_id
	  AND h.id <> e.id AND h.status IN ('pending','sent'))`

// failedAhead is true when an older failed row, matching extra, shares the
// event id of e. Only the oldest failed row per event id may go live.
func failedAhead(extra string) string {
	return `e.event_id <> '' AND EXISTS (
	SELECT 1 FROM tracked_events s
	WHERE s.channel_id = e.channel_id AND s.event_id = e.event_id
	  AND s.status = 'failed' AND ` + extra + `
	  AND (s.created_at, s.id) < (e.created_at, e.id))`
}

func (r *EventRepo) FindByEventID(ctx context.Context, channelID, eventID string) (*domain.TrackedEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM tracked_events
		WHERE channel_id = $1 AND event_id = $2
		ORDER BY (status IN ('pending','sent')) DESC, created_at DESC
		LIMIT 1
	`, channelID, eventID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ingest.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	return e, nil
}

func (r *EventRepo) Insert(ctx context.Context, e *domain.TrackedEvent) error {
	userData, err := json.Marshal(e.UserData)
	if err != nil {
		return fmt.Errorf("marshal user data: %w", err)
	}
	var customData sql.NullString
	if !e.CustomData.IsEmpty() {
		raw, err := json.Marshal(e.CustomData)
		if err != nil {
			return fmt.Errorf("marshal custom data: %w", err)
		}
		customData = sql.NullString{String: string(raw), Valid: true}
	}
	var quality sql.NullInt64
	if e.MatchQuality != nil {
		quality = sql.NullInt64{Int64: int64(*e.MatchQuality), Valid: true}
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO tracked_events
			(id, channel_id, event_id, event_name, event_time, source_url, visitor_id,
			 user_data, custom_data, match_quality, status, duplicate_of, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`, e.ID, e.ChannelID, e.EventID, string(e.EventName), e.EventTime, e.SourceURL, e.VisitorID,
		string(userData), customData, quality, string(e.Status), e.DuplicateOf,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if isUniqueViolation(err) {
		return ingest.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *EventRepo) Dispatchable(ctx context.Context, channelID string, maxAttempts, limit int) ([]domain.TrackedEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM tracked_events e
		WHERE e.channel_id = $1
		  AND e.attempts < $2
		  AND (e.status = 'pending' OR (e.status = 'failed'
		       AND NOT (`+heldKey+`) AND NOT (`+failedAhead("s.attempts < $2")+`)))
		ORDER BY e.event_time ASC
		LIMIT $3
	`, channelID, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("select dispatchable: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// MarkSent records a delivered chunk. Rows whose event id is already live,
// or is shared with an older row of the same chunk, become duplicates of
// that row so the live-event-id index never sees two sent rows.
func (r *EventRepo) MarkSent(ctx context.Context, ids []string, o dispatch.Outcome) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark sent: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		WITH chunk AS (
			SELECT id, channel_id, event_id, created_at
			FROM tracked_events
			WHERE id = ANY($1::uuid[]) AND status IN ('pending','failed') AND event_id <> ''
		), losers AS (
			SELECT c.id, COALESCE(h.id, w.id) AS winner
			FROM chunk c
			LEFT JOIN LATERAL (
				SELECT l.id FROM tracked_events l
				WHERE l.channel_id = c.channel_id AND l.event_id = c.event_id
				  AND l.status IN ('pending','sent') AND NOT (l.id = ANY($1::uuid[]))
				LIMIT 1
			) h ON TRUE
			LEFT JOIN LATERAL (
				SELECT k.id FROM chunk k
				WHERE k.channel_id = c.channel_id AND k.event_id = c.event_id
				  AND (k.created_at, k.id) < (c.created_at, c.id)
				ORDER BY k.created_at, k.id
				LIMIT 1
			) w ON TRUE
			WHERE h.id IS NOT NULL OR w.id IS NOT NULL
		)
		UPDATE tracked_events t
		SET status = 'duplicate', duplicate_of = l.winner::text, trace_id = $2, updated_at = NOW()
		FROM losers l
		WHERE t.id = l.id
	`, pq.Array(ids), o.TraceID)
	if err != nil {
		return fmt.Errorf("mark sent: demote duplicates: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.Default().With("component", "event_repo").Warn("demoted duplicate rows in sent chunk",
			"trace_id", o.TraceID, "rows", n)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tracked_events
		SET status = 'sent', trace_id = $2, events_received = $3, last_response = $4,
		    last_error = '', sent_at = $5, updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND status IN ('pending','failed')
	`, pq.Array(ids), o.TraceID, o.EventsReceived, o.Response, o.At); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark sent: commit: %w", err)
	}
	return nil
}

func (r *EventRepo) MarkFailed(ctx context.Context, ids []string, o dispatch.Outcome) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tracked_events
		SET status = 'failed', attempts = attempts + 1, last_error = $2, last_response = $3,
		    trace_id = $4, updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND status IN ('pending','failed')
	`, pq.Array(ids), o.Error, o.Response, o.TraceID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *EventRepo) RetryFailed(ctx context.Context, channelID string, ids []string) (int, error) {
	q := `
		UPDATE tracked_events e
		SET status = 'pending', attempts = 0, last_error = '', updated_at = NOW()
		WHERE e.channel_id = $1 AND e.status = 'failed' AND NOT (` + heldKey + `)`
	args := []interface{}{channelID}
	if len(ids) > 0 {
		q += ` AND e.id = ANY($2::uuid[]) AND NOT (` + failedAhead("s.id = ANY($2::uuid[])") + `)`
		args = append(args, pq.Array(ids))
	} else {
		q += ` AND NOT (` + failedAhead("TRUE") + `)`
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("retry failed: several failed rows share an event id, retry them one at a time: %w", ingest.ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *EventRepo) ChannelsWithDispatchable(ctx context.Context, maxAttempts int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT e.channel_id
		FROM tracked_events e
		JOIN channels c ON c.id = e.channel_id
		WHERE c.active
		  AND e.attempts < $1
		  AND (e.status = 'pending' OR (e.status = 'failed'
		       AND NOT (`+heldKey+`) AND NOT (`+failedAhead("s.attempts < $1")+`)))
		ORDER BY e.channel_id
	`, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("channels with dispatchable events: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanEvent(s scanner) (*domain.TrackedEvent, error) {
	e := &domain.TrackedEvent{}
	var (
		name, status string
		userData     []byte
		customData   []byte
		quality      sql.NullInt64
		sentAt       sql.NullTime
	)
	if err := s.Scan(&e.ID, &e.ChannelID, &e.EventID, &name, &e.EventTime, &e.SourceURL, &e.VisitorID,
		&userData, &customData, &quality, &status, &e.Attempts, &e.LastError, &e.LastResponse,
		&e.TraceID, &e.EventsReceived, &e.DuplicateOf, &sentAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.EventName = domain.EventName(name)
	e.Status = domain.EventStatus(status)
	if len(userData) > 0 {
		if err := json.Unmarshal(userData, &e.UserData); err != nil {
			return nil, fmt.Errorf("decode user data of %s: %w", e.ID, err)
		}
	}
	if len(customData) > 0 && strings.TrimSpace(string(customData)) != "null" {
		e.CustomData = &domain.CustomData{}
		if err := json.Unmarshal(customData, e.CustomData); err != nil {
			return nil, fmt.Errorf("decode custom data of %s: %w", e.ID, err)
		}
	}
	if quality.Valid {
		q := int(quality.Int64)
		e.MatchQuality = &q
	}
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	return e, nil
}
