package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/metrics"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
	"github.com/ignite/pixelrelay/internal/storage"
)

const contentType = "application/x-ndjson"

// BatchSink buffers records and writes them as NDJSON objects under
// prefix/yyyy/mm/dd/<uuid>.ndjson, when the buffer reaches maxBatch or
// on every flush interval. Record never blocks on storage.
type BatchSink struct {
	store    storage.ObjectStore
	prefix   string
	maxBatch int
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu  sync.Mutex
	buf []Record

	flushes chan []Record
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewBatchSink creates a sink. Call Run to start the flusher.
func NewBatchSink(store storage.ObjectStore, prefix string, maxBatch int, interval time.Duration) *BatchSink {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &BatchSink{
		store:    store,
		prefix:   prefix,
		maxBatch: maxBatch,
		interval: interval,
		log:      logger.Default().With("component", "analytics"),
		now:      time.Now,
		flushes:  make(chan []Record, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *BatchSink) Record(_ context.Context, e domain.TrackedEvent) {
	s.mu.Lock()
	s.buf = append(s.buf, NewRecord(e))
	var full []Record
	if len(s.buf) >= s.maxBatch {
		full, s.buf = s.buf, nil
	}
	s.mu.Unlock()

	if full != nil {
		select {
		case s.flushes <- full:
		default:
			metrics.SinkFlushes.WithLabelValues("dropped").Inc()
			s.log.Warn("analytics flush backlog full, dropping batch", "records", len(full))
		}
	}
}

// Run writes batches until Close is called, then flushes what is left.
func (s *BatchSink) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case batch := <-s.flushes:
			s.write(ctx, batch)
		case <-ticker.C:
			s.write(ctx, s.take())
		case <-s.stop:
			s.drain(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

// Close stops Run after a final flush and waits for it.
func (s *BatchSink) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *BatchSink) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for {
		select {
		case batch := <-s.flushes:
			s.write(ctx, batch)
		default:
			s.write(ctx, s.take())
			return
		}
	}
}

func (s *BatchSink) take() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	return out
}

func (s *BatchSink) write(ctx context.Context, batch []Record) {
	if len(batch) == 0 {
		return
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range batch {
		if err := enc.Encode(r); err != nil {
			s.log.Error("encode analytics record", "id", r.ID, "error", err)
		}
	}

	key := s.objectKey()
	if err := s.store.Put(ctx, key, body.Bytes(), contentType); err != nil {
		metrics.SinkFlushes.WithLabelValues("error").Inc()
		s.log.Error("analytics flush failed", "key", key, "records", len(batch), "error", err)
		return
	}
	metrics.SinkFlushes.WithLabelValues("ok").Inc()
	s.log.Debug("analytics batch written", "key", key, "records", len(batch))
}

func (s *BatchSink) objectKey() string {
	return fmt.Sprintf("%s/%s/%s.ndjson", s.prefix, s.now().UTC().Format("2006/01/02"), uuid.NewString())
}
