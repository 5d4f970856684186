package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/matchquality"
	"github.com/ignite/pixelrelay/internal/metrics"
	"github.com/ignite/pixelrelay/internal/pii"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
	"github.com/ignite/pixelrelay/internal/service/profile"
	"github.com/ignite/pixelrelay/internal/validation"
)

// Config tunes admission.
type Config struct {
	// MinMatchQuality is the lowest score that is still delivered.
	MinMatchQuality int
	// MinBirthYear drops implausible birth dates. Zero disables the check.
	MinBirthYear int
	// MaxEventAge and MaxFutureSkew bound event_time around the server
	// clock. Zero disables the respective check.
	MaxEventAge   time.Duration
	MaxFutureSkew time.Duration
}

// Service is the admission gate. It is safe for concurrent use.
type Service struct {
	channels ChannelRepository
	events   EventRepository
	enricher Enricher
	queue    Enqueuer
	sink     Sink
	cfg      Config
	hasher   pii.Hasher
	log      *logger.Logger
	now      func() time.Time
	newID    func() string
}

// NewService wires the gate. enricher and sink may be nil.
func NewService(channels ChannelRepository, events EventRepository, enricher Enricher, queue Enqueuer, sink Sink, cfg Config) *Service {
	return &Service{
		channels: channels,
		events:   events,
		enricher: enricher,
		queue:    queue,
		sink:     sink,
		cfg:      cfg,
		hasher:   pii.Hasher{MinBirthYear: cfg.MinBirthYear},
		log:      logger.Default().With("component", "ingest"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Admit runs one event through the gate and enqueues its channel when the
// event is Pending. For duplicates the returned Result describes the audit
// row and the error is ErrDuplicate.
func (s *Service) Admit(ctx context.Context, sub Submission, meta RequestMeta) (*Result, error) {
	res, err := s.admit(ctx, sub, meta)
	if err != nil {
		return res, err
	}
	if res.Event.Status == domain.StatusPending {
		s.enqueue(ctx, res.Event.ChannelID, "admit")
	}
	return res, nil
}

// AdmitBatch admits each entry independently and enqueues every channel
// that gained a Pending event once.
func (s *Service) AdmitBatch(ctx context.Context, subs []Submission, meta RequestMeta) *BatchResult {
	out := &BatchResult{}
	pending := map[string]bool{}
	var order []string
	for i, sub := range subs {
		res, err := s.admit(ctx, sub, meta)
		if err != nil {
			rej := Rejection{Index: i, Err: err}
			if res != nil {
				rej.Event = res.Event
			}
			out.Rejected = append(out.Rejected, rej)
			continue
		}
		out.Accepted = append(out.Accepted, *res)
		if res.Event.Status == domain.StatusPending && !pending[res.Event.ChannelID] {
			pending[res.Event.ChannelID] = true
			order = append(order, res.Event.ChannelID)
		}
	}
	for _, ch := range order {
		s.enqueue(ctx, ch, "admit_batch")
	}
	return out
}

func (s *Service) admit(ctx context.Context, sub Submission, meta RequestMeta) (*Result, error) {
	if fields := validation.Fields(&sub); fields != nil {
		return nil, &ValidationError{Fields: fields}
	}
	name := domain.EventName(strings.TrimSpace(sub.EventName))
	if !name.Valid() {
		return nil, invalid("event_name", "must be a standard event or a custom name of 1-100 characters")
	}

	ch, err := s.channels.Get(ctx, sub.ChannelID)
	if err != nil {
		return nil, err
	}
	if !ch.Active {
		return nil, ErrChannelInactive
	}
	if meta.Origin != "" && !ch.AllowsOrigin(meta.Origin) {
		return nil, fmt.Errorf("%w: %s", ErrOriginNotAllowed, domain.HostOf(meta.Origin))
	}

	now := s.now().UTC()
	eventTime := now
	if sub.EventTime > 0 {
		eventTime = time.Unix(sub.EventTime, 0).UTC()
		if s.cfg.MaxEventAge > 0 && eventTime.Before(now.Add(-s.cfg.MaxEventAge)) {
			return nil, invalid("event_time", fmt.Sprintf("must be within the last %s", s.cfg.MaxEventAge))
		}
		if s.cfg.MaxFutureSkew > 0 && eventTime.After(now.Add(s.cfg.MaxFutureSkew)) {
			return nil, invalid("event_time", "must not be in the future")
		}
	}

	payload := domain.UserDataPayload{}
	if sub.UserData != nil {
		payload = *sub.UserData
	}
	if payload.ClientIP == "" {
		payload.ClientIP = meta.ClientIP
	}
	if payload.UserAgent == "" {
		payload.UserAgent = meta.UserAgent
	}
	if payload.ClickID == "" {
		payload.ClickID = clickIDFromURL(sub.SourceURL, eventTime)
	}

	bundle := s.hasher.HashPayload(payload)
	ev := &domain.TrackedEvent{
		ID:        s.newID(),
		ChannelID: ch.ID,
		EventID:   strings.TrimSpace(sub.EventID),
		EventName: name,
		EventTime: eventTime,
		SourceURL: sub.SourceURL,
		VisitorID: sub.VisitorID,
		UserData:  bundle,
		Status:    domain.StatusPending,
	}
	if !sub.CustomData.IsEmpty() {
		ev.CustomData = sub.CustomData
	}
	res := &Result{Event: ev}

	// Duplicates are settled before enrichment so a resent event does not
	// touch the visitor's profile.
	if ev.EventID != "" {
		prior, err := s.events.FindByEventID(ctx, ch.ID, ev.EventID)
		switch {
		case err == nil && prior.Status.Blocks():
			score := matchquality.Score(bundle)
			ev.MatchQuality = &score
			return s.recordDuplicate(ctx, res, prior.ID, meta.Transport)
		case err != nil && !errors.Is(err, ErrEventNotFound):
			return nil, fmt.Errorf("duplicate check: %w", err)
		}
	}

	if s.enricher != nil {
		subject := profile.Subject{ChannelID: ch.ID, VisitorID: sub.VisitorID, RawPhone: rawPhone(payload)}
		enriched, err := s.enricher.Enrich(ctx, subject, bundle)
		if err != nil {
			s.log.Warn("profile enrichment failed, continuing without", "channel", ch.ID, "error", err)
		} else {
			ev.UserData = enriched.UserData
			res.Filled = enriched.Filled
		}
	}

	score := matchquality.Score(ev.UserData)
	ev.MatchQuality = &score

	if score < s.cfg.MinMatchQuality {
		ev.Status = domain.StatusSkipped
	}

	if err := s.events.Insert(ctx, ev); err != nil {
		if errors.Is(err, ErrDuplicate) {
			priorID := ""
			if prior, ferr := s.events.FindByEventID(ctx, ch.ID, ev.EventID); ferr == nil {
				priorID = prior.ID
			}
			return s.recordDuplicate(ctx, res, priorID, meta.Transport)
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}

	s.observe(ctx, *ev, meta.Transport)
	return res, nil
}

// recordDuplicate persists the audit row. Duplicate rows sit outside the
// unique index, so this insert cannot conflict.
func (s *Service) recordDuplicate(ctx context.Context, res *Result, priorID, transport string) (*Result, error) {
	ev := res.Event
	ev.Status = domain.StatusDuplicate
	ev.DuplicateOf = priorID
	if err := s.events.Insert(ctx, ev); err != nil {
		return nil, fmt.Errorf("insert duplicate audit row: %w", err)
	}
	s.observe(ctx, *ev, transport)
	return res, fmt.Errorf("%w: event_id %q already accepted for channel %s", ErrDuplicate, ev.EventID, ev.ChannelID)
}

func (s *Service) observe(ctx context.Context, ev domain.TrackedEvent, transport string) {
	metrics.Admissions.WithLabelValues(string(ev.Status)).Inc()
	if transport != "" {
		metrics.EventsReceived.WithLabelValues(transport).Inc()
	}
	if s.sink != nil {
		s.sink.Record(ctx, ev)
	}
}

func (s *Service) enqueue(ctx context.Context, channelID, reason string) {
	task := domain.DispatchTask{ChannelID: channelID, EnqueuedAt: s.now().UTC(), Reason: reason}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		// The pending sweeper picks the channel up on its next pass.
		s.log.Warn("enqueue dispatch failed", "channel", channelID, "error", err)
	}
}

// clickIDFromURL builds an fbc value from an fbclid query parameter.
func clickIDFromURL(raw string, at time.Time) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	id := u.Query().Get("fbclid")
	if id == "" {
		return ""
	}
	return fmt.Sprintf("fb.1.%d.%s", at.UnixMilli(), id)
}

func rawPhone(p domain.UserDataPayload) string {
	if p.Phone != "" && !pii.IsHashed(p.Phone) {
		return p.Phone
	}
	for _, ph := range p.Phones {
		if !pii.IsHashed(ph) {
			return ph
		}
	}
	return ""
}
