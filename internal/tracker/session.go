package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/pkg/httpretry"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
)

// Event is one event in the relay's ingestion shape.
type Event struct {
	ChannelID  string                  `json:"channel_id"`
	EventName  string                  `json:"event_name"`
	EventID    string                  `json:"event_id,omitempty"`
	EventTime  int64                   `json:"event_time,omitempty"`
	SourceURL  string                  `json:"source_url"`
	VisitorID  string                  `json:"visitor_id,omitempty"`
	UserData   *domain.UserDataPayload `json:"user_data,omitempty"`
	CustomData *domain.CustomData      `json:"custom_data,omitempty"`
}

// Config configures a TrackerSession.
type Config struct {
	ChannelID string
	// Endpoint is the relay base URL, e.g. https://relay.example.com.
	Endpoint          string
	FallbackEndpoints []string
	APIKey            string
	DisguisePrefix    string
	UserAgent         string
	// SelectorOverrides maps a field key ("em", "phone", ...) to a CSS
	// selector that locates its input.
	SelectorOverrides map[string]string
	IdentityStore     IdentityStore
	HTTPClient        httpretry.HTTPDoer
	// Transports replaces the default http, beacon, manual, image chain.
	Transports    []Transport
	MaxQueueSize  int
	MaxBatch      int
	FlushInterval time.Duration
	RetryDelays   []time.Duration
	ProbeTimeout  time.Duration
	MaxURLLength  int
	// SkipProbe disables the background health probe at start.
	SkipProbe bool
	OnDrop    func(reason string, events []Event)
}

func (c *Config) applyDefaults() {
	if c.DisguisePrefix == "" {
		c.DisguisePrefix = "/static/assets"
	}
	if c.IdentityStore == nil {
		c.IdentityStore = NewMemoryIdentityStore()
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 100
	}
	if c.MaxBatch <= 0 || c.MaxBatch > 1000 {
		c.MaxBatch = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.RetryDelays == nil {
		c.RetryDelays = DefaultRetryDelays
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.MaxURLLength <= 0 {
		c.MaxURLLength = 2000
	}
}

// TrackOptions carries the optional parts of a tracked event.
type TrackOptions struct {
	EventID    string
	SourceURL  string
	UserData   *domain.UserDataPayload
	CustomData *domain.CustomData
}

// TrackerSession owns the client state for one visitor.
type TrackerSession struct {
	cfg   Config
	graph *IdentityGraph
	store IdentityStore
	queue *batchQueue
	chain *Chain
	diag  *Diagnostics
	log   *logger.Logger
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	identity StoredIdentity
	clickID  string
	pageURL  string
	timer    *time.Timer
	closed   bool

	flushMu sync.Mutex
	bg      sync.WaitGroup
}

// New starts a session: it loads or creates the persisted identity and
// starts the background health probe.
func New(cfg Config) (*TrackerSession, error) {
	if cfg.ChannelID == "" {
		return nil, errors.New("tracker: channel id is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("tracker: endpoint is required")
	}
	cfg.applyDefaults()

	s := &TrackerSession{
		cfg:   cfg,
		graph: NewIdentityGraph(),
		store: cfg.IdentityStore,
		queue: newBatchQueue(cfg.MaxQueueSize),
		diag:  &Diagnostics{},
		log:   logger.Default().With("component", "tracker"),
		now:   time.Now,
		newID: uuid.NewString,
	}
	s.chain = newChain(cfg, s.diag, func() time.Time { return s.now() })

	id, err := s.store.Load()
	if err != nil {
		s.log.Warn("identity store unreadable, starting fresh", "error", err)
		id = StoredIdentity{}
	}
	changed := false
	if id.VisitorID == "" {
		id.VisitorID = s.newID()
		changed = true
	}
	if id.BrowserID == "" {
		id.BrowserID = fmt.Sprintf("fb.1.%d.%d", s.now().UnixMilli(), rand.Int63n(1<<31))
		changed = true
	}
	s.identity = id
	s.clickID = id.ClickID
	for key, v := range id.PII {
		s.graph.SetKey(key, v, SourceStored)
	}
	if changed {
		s.persist()
	}

	if !cfg.SkipProbe {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.chain.Probe(context.Background())
		}()
	}
	return s, nil
}

// SetPage records the current page URL and captures identifiers from it.
func (s *TrackerSession) SetPage(raw string) {
	s.mu.Lock()
	s.pageURL = raw
	s.mu.Unlock()
	s.CaptureURL(raw)
}

// Track queues an event and returns its event id. Delivery happens on the
// next flush.
func (s *TrackerSession) Track(name string, opts TrackOptions) string {
	eventID := opts.EventID
	if eventID == "" {
		eventID = s.newID()
	}
	source := opts.SourceURL
	s.mu.Lock()
	if source == "" {
		source = s.pageURL
	}
	closed := s.closed
	s.mu.Unlock()

	userData, _ := s.BuildUserData(opts.UserData)
	ev := Event{
		ChannelID:  s.cfg.ChannelID,
		EventName:  name,
		EventID:    eventID,
		EventTime:  s.now().Unix(),
		SourceURL:  source,
		VisitorID:  s.VisitorID(),
		UserData:   &userData,
		CustomData: opts.CustomData,
	}

	if closed {
		s.chain.drop(DropClosed, []Event{ev})
		return eventID
	}
	if dropped, ok := s.queue.push(ev); ok {
		s.diag.droppedQueueFull.Add(1)
		if s.cfg.OnDrop != nil {
			s.cfg.OnDrop(DropQueueFull, []Event{dropped})
		}
	}
	s.armTimer()
	return eventID
}

func (s *TrackerSession) armTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil || s.closed {
		return
	}
	s.bg.Add(1)
	s.timer = time.AfterFunc(s.cfg.FlushInterval, func() {
		defer s.bg.Done()
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		s.Flush(context.Background())
	})
}

// Flush delivers everything queued, in batches of MaxBatch.
func (s *TrackerSession) Flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	for {
		batch := s.queue.take(s.cfg.MaxBatch)
		if len(batch) == 0 {
			return
		}
		s.chain.Deliver(ctx, batch)
		if ctx.Err() != nil {
			return
		}
	}
}

// OnPageHide flushes immediately, as a page going to the background may
// never come back.
func (s *TrackerSession) OnPageHide(ctx context.Context) {
	s.stopTimer()
	s.Flush(ctx)
}

// Close flushes the queue and stops background work. Events tracked after
// Close are dropped.
func (s *TrackerSession) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopTimer()
	s.Flush(ctx)
	s.bg.Wait()
}

func (s *TrackerSession) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil && s.timer.Stop() {
		s.bg.Done()
	}
	s.timer = nil
}

// SyncCookies asks the relay to re-issue the stored browser, click and
// visitor ids as first-party cookies.
func (s *TrackerSession) SyncCookies(ctx context.Context) error {
	id := s.storedIdentity()
	body, err := json.Marshal(map[string]string{
		"fbp":        id.BrowserID,
		"fbc":        s.clickIDValue(),
		"visitor_id": id.VisitorID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.Endpoint, "/")+"/api/v1/cookie-sync", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := s.cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cookie sync: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("cookie sync returned %d", resp.StatusCode)
	}
	return nil
}

// VisitorID is the persistent session-visitor id.
func (s *TrackerSession) VisitorID() string { return s.storedIdentity().VisitorID }

// Graph exposes the identity graph.
func (s *TrackerSession) Graph() *IdentityGraph { return s.graph }

// Chain exposes the transport chain.
func (s *TrackerSession) Chain() *Chain { return s.chain }

// Diagnostics returns the session counters.
func (s *TrackerSession) Diagnostics() DiagnosticsSnapshot { return s.diag.Snapshot() }

// Pending is the number of queued events.
func (s *TrackerSession) Pending() int { return s.queue.len() }

func (s *TrackerSession) storedIdentity() StoredIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneIdentity(s.identity)
}

func (s *TrackerSession) clickIDValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clickID
}

func (s *TrackerSession) setClickID(v string) {
	s.mu.Lock()
	s.clickID = v
	s.mu.Unlock()
	s.updateStored(func(id *StoredIdentity) { id.ClickID = v })
}

func (s *TrackerSession) updateStored(fn func(*StoredIdentity)) {
	s.mu.Lock()
	fn(&s.identity)
	s.mu.Unlock()
	s.persist()
}

func (s *TrackerSession) persist() {
	s.mu.Lock()
	s.identity.UpdatedAt = s.now().UTC()
	id := cloneIdentity(s.identity)
	s.mu.Unlock()
	if err := s.store.Save(id); err != nil {
		s.log.Warn("persist identity failed", "error", err)
	}
}
