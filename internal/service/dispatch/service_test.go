package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ignite/pixelrelay/internal/capi"
	"github.com/ignite/pixelrelay/internal/domain"
)

type memRepo struct {
	mu     sync.Mutex
	events map[string]*domain.TrackedEvent
}

func newMemRepo() *memRepo { return &memRepo{events: map[string]*domain.TrackedEvent{}} }

func (m *memRepo) add(e domain.TrackedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := e
	m.events[e.ID] = &cp
}

func (m *memRepo) get(id string) domain.TrackedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.events[id]
}

func (m *memRepo) keyHeld(e *domain.TrackedEvent) bool {
	if e.EventID == "" {
		return false
	}
	for _, o := range m.events {
		if o.ID != e.ID && o.ChannelID == e.ChannelID && o.EventID == e.EventID && o.Status.Blocks() {
			return true
		}
	}
	return false
}

func (m *memRepo) Dispatchable(_ context.Context, channelID string, maxAttempts, limit int) ([]domain.TrackedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrackedEvent
	for _, e := range m.events {
		if e.ChannelID != channelID || !e.Dispatchable(maxAttempts) {
			continue
		}
		if e.Status == domain.StatusFailed && m.keyHeld(e) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) MarkSent(_ context.Context, ids []string, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e := m.events[id]
		e.Status = domain.StatusSent
		e.TraceID = o.TraceID
		e.EventsReceived = o.EventsReceived
		e.LastResponse = o.Response
		at := o.At
		e.SentAt = &at
	}
	return nil
}

func (m *memRepo) MarkFailed(_ context.Context, ids []string, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e := m.events[id]
		e.Status = domain.StatusFailed
		e.Attempts++
		e.LastError = o.Error
		e.LastResponse = o.Response
	}
	return nil
}

func (m *memRepo) RetryFailed(_ context.Context, channelID string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for _, e := range m.events {
		if e.ChannelID != channelID || e.Status != domain.StatusFailed || (len(ids) > 0 && !want[e.ID]) || m.keyHeld(e) {
			continue
		}
		e.Status = domain.StatusPending
		e.Attempts = 0
		n++
	}
	return n, nil
}

func (m *memRepo) ChannelsWithDispatchable(_ context.Context, maxAttempts int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, e := range m.events {
		if e.Dispatchable(maxAttempts) && !seen[e.ChannelID] {
			seen[e.ChannelID] = true
			out = append(out, e.ChannelID)
		}
	}
	sort.Strings(out)
	return out, nil
}

type memChannels map[string]*domain.Channel

func (m memChannels) Get(_ context.Context, id string) (*domain.Channel, error) {
	if ch, ok := m[id]; ok {
		return ch, nil
	}
	return nil, errors.New("channel not found")
}

type scriptedDeliverer struct {
	mu     sync.Mutex
	chunks [][]domain.TrackedEvent
	errs   []error // consumed per call; nil entries succeed
}

func (d *scriptedDeliverer) Send(_ context.Context, _ domain.Channel, events []domain.TrackedEvent) (*capi.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chunks = append(d.chunks, events)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &capi.Response{EventsReceived: len(events), TraceID: fmt.Sprintf("trace-%d", len(d.chunks)), Body: "{}"}, nil
}

type memQueue struct{ tasks []domain.DispatchTask }

func (q *memQueue) Enqueue(_ context.Context, t domain.DispatchTask) error {
	q.tasks = append(q.tasks, t)
	return nil
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(repo *memRepo, channelID string, n int, status domain.EventStatus) {
	for i := 0; i < n; i++ {
		repo.add(domain.TrackedEvent{
			ID:        fmt.Sprintf("%s-%04d", channelID, i),
			ChannelID: channelID,
			EventName: domain.EventPurchase,
			EventTime: base.Add(time.Duration(i) * time.Second),
			Status:    status,
		})
	}
}

func newTestService(repo *memRepo, d *scriptedDeliverer, chunk int) (*Service, *memQueue) {
	q := &memQueue{}
	channels := memChannels{
		"c1":  {ID: "c1", PixelID: "p", AccessToken: "t", Active: true},
		"off": {ID: "off", Active: false},
	}
	return NewService(channels, repo, d, q, Config{ChunkSize: chunk, MaxAttempts: 3}), q
}

func TestDispatchChannel_ChunksInEventTimeOrder(t *testing.T) {
	repo := newMemRepo()
	seed(repo, "c1", 5, domain.StatusPending)
	repo.add(domain.TrackedEvent{ID: "skipped", ChannelID: "c1", EventTime: base, Status: domain.StatusSkipped})
	d := &scriptedDeliverer{}
	svc, _ := newTestService(repo, d, 2)

	sum, err := svc.DispatchChannel(context.Background(), "c1")
	if err != nil {
		t.Fatalf("DispatchChannel: %v", err)
	}
	if sum.Chunks != 3 || sum.Sent != 5 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(d.chunks) != 3 || len(d.chunks[0]) != 2 || len(d.chunks[2]) != 1 {
		t.Fatalf("chunk sizes wrong: %d chunks", len(d.chunks))
	}
	if d.chunks[0][0].ID != "c1-0000" || d.chunks[1][0].ID != "c1-0002" {
		t.Errorf("chunks not in event-time order: %s, %s", d.chunks[0][0].ID, d.chunks[1][0].ID)
	}
	e := repo.get("c1-0003")
	if e.Status != domain.StatusSent || e.TraceID != "trace-2" || e.EventsReceived != 2 || e.SentAt == nil {
		t.Errorf("sent event = %+v", e)
	}
	if repo.get("skipped").Status != domain.StatusSkipped {
		t.Error("skipped events must never be dispatched")
	}
}

func TestDispatchChannel_FailureMarksWholeChunk(t *testing.T) {
	repo := newMemRepo()
	seed(repo, "c1", 3, domain.StatusPending)
	apiErr := &capi.APIError{StatusCode: 400, Message: "bad token", Body: `{"error":{}}`}
	d := &scriptedDeliverer{errs: []error{apiErr}}
	svc, _ := newTestService(repo, d, 10)

	sum, err := svc.DispatchChannel(context.Background(), "c1")
	if err != nil {
		t.Fatalf("DispatchChannel: %v", err)
	}
	if sum.Failed != 3 || sum.Sent != 0 || sum.LastError == "" {
		t.Fatalf("summary = %+v", sum)
	}
	for i := 0; i < 3; i++ {
		e := repo.get(fmt.Sprintf("c1-%04d", i))
		if e.Status != domain.StatusFailed || e.Attempts != 1 || e.LastResponse != `{"error":{}}` || e.LastError == "" {
			t.Errorf("event %d = %+v", i, e)
		}
	}
}

func TestDispatchChannel_StopsAtFirstFailure(t *testing.T) {
	repo := newMemRepo()
	seed(repo, "c1", 4, domain.StatusPending)
	d := &scriptedDeliverer{errs: []error{nil, errors.New("connection reset")}}
	svc, _ := newTestService(repo, d, 2)

	sum, _ := svc.DispatchChannel(context.Background(), "c1")
	if sum.Chunks != 2 || sum.Sent != 2 || sum.Failed != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(d.chunks) != 2 {
		t.Errorf("failed chunk must not be retried in the same run, calls=%d", len(d.chunks))
	}
}

func TestDispatchChannel_AttemptCapExcludesEvents(t *testing.T) {
	repo := newMemRepo()
	seed(repo, "c1", 1, domain.StatusPending)
	d := &scriptedDeliverer{errs: []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}}
	svc, _ := newTestService(repo, d, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.DispatchChannel(ctx, "c1"); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if e := repo.get("c1-0000"); e.Attempts != 3 || e.Status != domain.StatusFailed {
		t.Fatalf("event = %+v", e)
	}

	sum, _ := svc.DispatchChannel(ctx, "c1")
	if sum.Chunks != 0 || len(d.chunks) != 3 {
		t.Errorf("exhausted event was selected again: %+v", sum)
	}
	due, _ := svc.ChannelsDue(ctx)
	if len(due) != 0 {
		t.Errorf("channels due = %v", due)
	}
}

func TestDispatchChannel_FailedBelowCapIsRedelivered(t *testing.T) {
	repo := newMemRepo()
	seed(repo, "c1", 1, domain.StatusPending)
	d := &scriptedDeliverer{errs: []error{errors.New("timeout")}}
	svc, _ := newTestService(repo, d, 10)
	ctx := context.Background()

	svc.DispatchChannel(ctx, "c1")
	sum, err := svc.DispatchChannel(ctx, "c1")
	if err != nil || sum.Sent != 1 {
		t.Fatalf("second run: %+v, %v", sum, err)
	}
	if e := repo.get("c1-0000"); e.Status != domain.StatusSent || e.Attempts != 1 {
		t.Errorf("event = %+v", e)
	}
}

func TestDispatchChannel_FailedRowWithHeldKeyIsNotSelected(t *testing.T) {
	repo := newMemRepo()
	repo.add(domain.TrackedEvent{ID: "old", ChannelID: "c1", EventID: "order-1", EventTime: base, Status: domain.StatusFailed, Attempts: 1})
	repo.add(domain.TrackedEvent{ID: "new", ChannelID: "c1", EventID: "order-1", EventTime: base.Add(time.Second), Status: domain.StatusPending})
	d := &scriptedDeliverer{}
	svc, _ := newTestService(repo, d, 10)

	svc.DispatchChannel(context.Background(), "c1")
	if len(d.chunks) != 1 || len(d.chunks[0]) != 1 || d.chunks[0][0].ID != "new" {
		t.Fatalf("chunks = %+v", d.chunks)
	}
	if repo.get("old").Status != domain.StatusFailed {
		t.Error("superseded failed row must stay failed")
	}
}

func TestDispatchChannel_InactiveAndUnknownChannels(t *testing.T) {
	repo := newMemRepo()
	seed(repo, "off", 2, domain.StatusPending)
	d := &scriptedDeliverer{}
	svc, _ := newTestService(repo, d, 10)

	sum, err := svc.DispatchChannel(context.Background(), "off")
	if err != nil || sum.Chunks != 0 || len(d.chunks) != 0 {
		t.Errorf("inactive channel dispatched: %+v %v", sum, err)
	}
	if _, err := svc.DispatchChannel(context.Background(), "ghost"); err == nil {
		t.Error("unknown channel must error")
	}
}

func TestRetryFailed(t *testing.T) {
	repo := newMemRepo()
	repo.add(domain.TrackedEvent{ID: "f1", ChannelID: "c1", Status: domain.StatusFailed, Attempts: 3})
	repo.add(domain.TrackedEvent{ID: "f2", ChannelID: "c1", Status: domain.StatusFailed, Attempts: 3})
	repo.add(domain.TrackedEvent{ID: "s1", ChannelID: "c1", Status: domain.StatusSent})
	svc, q := newTestService(repo, &scriptedDeliverer{}, 10)
	ctx := context.Background()

	n, err := svc.RetryFailed(ctx, "c1", []string{"f1"})
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed = %d, %v", n, err)
	}
	if e := repo.get("f1"); e.Status != domain.StatusPending || e.Attempts != 0 {
		t.Errorf("f1 = %+v", e)
	}
	if repo.get("f2").Status != domain.StatusFailed {
		t.Error("f2 was not selected")
	}
	if len(q.tasks) != 1 || q.tasks[0].Reason != "operator_retry" {
		t.Errorf("tasks = %+v", q.tasks)
	}

	n, _ = svc.RetryFailed(ctx, "c1", nil)
	if n != 1 {
		t.Errorf("retry all moved %d, want 1", n)
	}
	if _, err := svc.RetryFailed(ctx, "c1", nil); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("err = %v, want ErrNothingToRetry", err)
	}
}

func TestNewService_ClampsChunkSize(t *testing.T) {
	svc := NewService(memChannels{}, newMemRepo(), &scriptedDeliverer{}, &memQueue{}, Config{ChunkSize: 5000})
	if svc.cfg.ChunkSize != MaxChunkSize || svc.MaxAttempts() != DefaultMaxAttempts {
		t.Errorf("cfg = %+v", svc.cfg)
	}
}
