package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/pii"
	"github.com/ignite/pixelrelay/internal/service/profile"
)

type memChannels map[string]*domain.Channel

func (m memChannels) Get(_ context.Context, id string) (*domain.Channel, error) {
	ch, ok := m[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// memEvents enforces the same partial uniqueness as the Postgres index.
type memEvents struct {
	mu       sync.Mutex
	rows     []domain.TrackedEvent
	hideNext bool // make the next FindByEventID miss, as a concurrent writer would
}

func (m *memEvents) FindByEventID(_ context.Context, channelID, eventID string) (*domain.TrackedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideNext {
		m.hideNext = false
		return nil, ErrEventNotFound
	}
	var found *domain.TrackedEvent
	for i := range m.rows {
		r := m.rows[i]
		if r.ChannelID != channelID || r.EventID != eventID {
			continue
		}
		if found == nil || (r.Status.Blocks() && !found.Status.Blocks()) {
			cp := r
			found = &cp
		}
	}
	if found == nil {
		return nil, ErrEventNotFound
	}
	return found, nil
}

func (m *memEvents) Insert(_ context.Context, e *domain.TrackedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.EventID != "" && e.Status.Blocks() {
		for _, r := range m.rows {
			if r.ChannelID == e.ChannelID && r.EventID == e.EventID && r.Status.Blocks() {
				return ErrDuplicate
			}
		}
	}
	e.CreatedAt = time.Now()
	m.rows = append(m.rows, *e)
	return nil
}

func (m *memEvents) byStatus(s domain.EventStatus) []domain.TrackedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrackedEvent
	for _, r := range m.rows {
		if r.Status == s {
			out = append(out, r)
		}
	}
	return out
}

type memQueue struct {
	mu    sync.Mutex
	tasks []domain.DispatchTask
	err   error
}

func (q *memQueue) Enqueue(_ context.Context, t domain.DispatchTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

type memSink struct {
	mu     sync.Mutex
	events []domain.TrackedEvent
}

func (s *memSink) Record(_ context.Context, e domain.TrackedEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

type stubEnricher struct {
	calls int
	fill  func(u domain.HashedUserData) domain.HashedUserData
	err   error
}

func (s *stubEnricher) Enrich(_ context.Context, _ profile.Subject, u domain.HashedUserData) (*profile.Enrichment, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.fill != nil {
		u = s.fill(u)
	}
	return &profile.Enrichment{UserData: u}, nil
}

type fixture struct {
	svc      *Service
	events   *memEvents
	queue    *memQueue
	sink     *memSink
	enricher *stubEnricher
}

func newFixture(minQuality int) *fixture {
	f := &fixture{
		events:   &memEvents{},
		queue:    &memQueue{},
		sink:     &memSink{},
		enricher: &stubEnricher{},
	}
	channels := memChannels{
		"c1":  {ID: "c1", PixelID: "px1", Active: true, AllowedDomains: []string{"shop.example.com"}},
		"off": {ID: "off", Active: false},
	}
	f.svc = NewService(channels, f.events, f.enricher, f.queue, f.sink, Config{MinMatchQuality: minQuality, MinBirthYear: 1900})
	n := 0
	f.svc.newID = func() string { n++; return fmt.Sprintf("ev-%d", n) }
	f.svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func purchase(eventID string) Submission {
	return Submission{
		ChannelID: "c1",
		EventName: "Purchase",
		EventID:   eventID,
		SourceURL: "https://shop.example.com/thanks",
		UserData:  &domain.UserDataPayload{Email: "buyer@example.com", Phone: "+1 555 123 4567"},
	}
}

func TestAdmit_PendingEventIsEnqueued(t *testing.T) {
	f := newFixture(10)
	res, err := f.svc.Admit(context.Background(), purchase("order-1"), RequestMeta{ClientIP: "203.0.113.5", UserAgent: "UA/1", Transport: "json"})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	ev := res.Event
	if ev.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", ev.Status)
	}
	if *ev.MatchQuality != 30+25+3+2 {
		t.Errorf("score = %d, want 60", *ev.MatchQuality)
	}
	if ev.UserData.ClientIP != "203.0.113.5" || ev.UserData.UserAgent != "UA/1" {
		t.Errorf("request metadata not applied: %+v", ev.UserData)
	}
	if !pii.IsHashed(ev.UserData.PrimaryEmail()) {
		t.Error("email must be hashed before persistence")
	}
	if len(f.queue.tasks) != 1 || f.queue.tasks[0].ChannelID != "c1" {
		t.Errorf("tasks = %+v", f.queue.tasks)
	}
	if len(f.sink.events) != 1 || f.enricher.calls != 1 {
		t.Errorf("sink=%d enricher=%d", len(f.sink.events), f.enricher.calls)
	}
}

func TestAdmit_SecondSubmissionIsDuplicate(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	first, err := f.svc.Admit(ctx, purchase("order-1"), RequestMeta{})
	if err != nil {
		t.Fatalf("first Admit: %v", err)
	}

	res, err := f.svc.Admit(ctx, purchase("order-1"), RequestMeta{})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if res == nil || res.Event.Status != domain.StatusDuplicate || res.Event.DuplicateOf != first.Event.ID {
		t.Fatalf("duplicate audit row not returned: %+v", res)
	}
	if got := len(f.events.byStatus(domain.StatusPending)); got != 1 {
		t.Errorf("pending rows = %d, want 1", got)
	}
	if got := len(f.events.byStatus(domain.StatusDuplicate)); got != 1 {
		t.Errorf("duplicate audit rows = %d, want 1", got)
	}
	if len(f.queue.tasks) != 1 {
		t.Errorf("duplicate must not be enqueued, tasks=%d", len(f.queue.tasks))
	}
}

func TestAdmit_DuplicateLeavesProfileAlone(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	if _, err := f.svc.Admit(ctx, purchase("order-3"), RequestMeta{}); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	res, err := f.svc.Admit(ctx, purchase("order-3"), RequestMeta{})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if f.enricher.calls != 1 {
		t.Errorf("enricher calls = %d, duplicate must not reach the profile store", f.enricher.calls)
	}
	if res.Event.MatchQuality == nil {
		t.Error("duplicate audit row should still carry a score")
	}
}

func TestAdmit_ConcurrentDuplicateCaughtByUniqueIndex(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	if _, err := f.svc.Admit(ctx, purchase("order-9"), RequestMeta{}); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	f.events.hideNext = true

	res, err := f.svc.Admit(ctx, purchase("order-9"), RequestMeta{})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate from the insert conflict", err)
	}
	if res.Event.DuplicateOf != "ev-1" {
		t.Errorf("duplicate_of = %q, want ev-1", res.Event.DuplicateOf)
	}
	if got := len(f.events.byStatus(domain.StatusPending)); got != 1 {
		t.Errorf("pending rows = %d, want 1", got)
	}
}

func TestAdmit_FailedPriorDoesNotBlock(t *testing.T) {
	f := newFixture(0)
	f.events.rows = append(f.events.rows, domain.TrackedEvent{ID: "old", ChannelID: "c1", EventID: "order-2", Status: domain.StatusFailed})

	res, err := f.svc.Admit(context.Background(), purchase("order-2"), RequestMeta{})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if res.Event.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", res.Event.Status)
	}
}

func TestAdmit_BelowThresholdIsSkipped(t *testing.T) {
	f := newFixture(50)
	sub := purchase("")
	sub.UserData = &domain.UserDataPayload{FirstName: "Ann"}

	res, err := f.svc.Admit(context.Background(), sub, RequestMeta{})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if res.Event.Status != domain.StatusSkipped {
		t.Fatalf("status = %s, want skipped", res.Event.Status)
	}
	if len(f.queue.tasks) != 0 {
		t.Error("skipped events must never be enqueued")
	}
	if f.enricher.calls != 1 || len(f.sink.events) != 1 {
		t.Error("skipped events still feed the profile store and the sink")
	}
}

func TestAdmit_EnrichmentRaisesScore(t *testing.T) {
	f := newFixture(30)
	f.enricher.fill = func(u domain.HashedUserData) domain.HashedUserData {
		u.Emails = []string{strings.Repeat("a", 64)}
		return u
	}
	sub := purchase("")
	sub.UserData = &domain.UserDataPayload{ExternalID: "crm-1"}

	res, err := f.svc.Admit(context.Background(), sub, RequestMeta{})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if res.Event.Status != domain.StatusPending || *res.Event.MatchQuality != 45 {
		t.Errorf("status=%s score=%d", res.Event.Status, *res.Event.MatchQuality)
	}
}

func TestAdmit_EnrichmentFailureIsNotFatal(t *testing.T) {
	f := newFixture(0)
	f.enricher.err = errors.New("profile store down")
	if _, err := f.svc.Admit(context.Background(), purchase("x"), RequestMeta{}); err != nil {
		t.Fatalf("Admit: %v", err)
	}
}

func TestAdmit_ClickIDFromSourceURL(t *testing.T) {
	f := newFixture(0)
	sub := purchase("")
	sub.SourceURL = "https://shop.example.com/p?fbclid=IwAR123"
	sub.EventTime = 1700000000

	res, err := f.svc.Admit(context.Background(), sub, RequestMeta{})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got := res.Event.UserData.ClickID; got != "fb.1.1700000000000.IwAR123" {
		t.Errorf("fbc = %q", got)
	}
	if !res.Event.EventTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("event time = %v", res.Event.EventTime)
	}
}

func TestAdmit_EventTimeBounds(t *testing.T) {
	f := newFixture(0)
	f.svc.cfg.MaxEventAge = 7 * 24 * time.Hour
	f.svc.cfg.MaxFutureSkew = 5 * time.Minute
	now := f.svc.now()
	ctx := context.Background()

	cases := []struct {
		name string
		at   time.Time
		ok   bool
	}{
		{"recent", now.Add(-time.Hour), true},
		{"six days old", now.Add(-6 * 24 * time.Hour), true},
		{"slightly ahead", now.Add(time.Minute), true},
		{"eight days old", now.Add(-8 * 24 * time.Hour), false},
		{"far future", now.Add(time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := purchase("")
			sub.EventTime = tc.at.Unix()
			_, err := f.svc.Admit(ctx, sub, RequestMeta{})
			if tc.ok {
				if err != nil {
					t.Fatalf("Admit: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Fields["event_time"] == "" {
				t.Fatalf("err = %v, want event_time validation error", err)
			}
		})
	}
	if got := len(f.events.rows); got != 3 {
		t.Errorf("persisted rows = %d, want 3", got)
	}
}

func TestAdmit_Rejections(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	sub := purchase("")
	sub.EventName = ""
	if _, err := f.svc.Admit(ctx, sub, RequestMeta{}); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("empty name: err = %v", err)
	}

	sub = purchase("")
	sub.ChannelID = "missing"
	if _, err := f.svc.Admit(ctx, sub, RequestMeta{}); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("unknown channel: err = %v", err)
	}

	sub = purchase("")
	sub.ChannelID = "off"
	if _, err := f.svc.Admit(ctx, sub, RequestMeta{}); !errors.Is(err, ErrChannelInactive) {
		t.Errorf("inactive channel: err = %v", err)
	}

	if _, err := f.svc.Admit(ctx, purchase(""), RequestMeta{Origin: "https://evil.test"}); !errors.Is(err, ErrOriginNotAllowed) {
		t.Errorf("foreign origin: err = %v", err)
	}

	if len(f.events.rows) != 0 {
		t.Errorf("rejected submissions must not be persisted, got %d rows", len(f.events.rows))
	}
}

func TestAdmit_EnqueueFailureStillAdmits(t *testing.T) {
	f := newFixture(0)
	f.queue.err = errors.New("redis unavailable")
	res, err := f.svc.Admit(context.Background(), purchase("q"), RequestMeta{})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if res.Event.Status != domain.StatusPending {
		t.Errorf("status = %s", res.Event.Status)
	}
}

func TestAdmitBatch_MixedResults(t *testing.T) {
	f := newFixture(0)
	bad := purchase("")
	bad.ChannelID = "off"
	subs := []Submission{purchase("b-1"), purchase("b-2"), bad, purchase("b-1")}

	out := f.svc.AdmitBatch(context.Background(), subs, RequestMeta{})
	if len(out.Accepted) != 2 || len(out.Rejected) != 2 {
		t.Fatalf("accepted=%d rejected=%d", len(out.Accepted), len(out.Rejected))
	}
	if out.Rejected[0].Index != 2 || !errors.Is(out.Rejected[0].Err, ErrChannelInactive) {
		t.Errorf("rejection 0 = %+v", out.Rejected[0])
	}
	if out.Rejected[1].Index != 3 || !errors.Is(out.Rejected[1].Err, ErrDuplicate) || out.Rejected[1].Event == nil {
		t.Errorf("rejection 1 = %+v", out.Rejected[1])
	}
	if len(f.queue.tasks) != 1 {
		t.Errorf("channel should be enqueued once per batch, got %d", len(f.queue.tasks))
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "bad", "a": "missing"}}
	if err.Error() != "invalid event: a: missing; b: bad" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidEvent) {
		t.Error("ValidationError must match ErrInvalidEvent")
	}
}
