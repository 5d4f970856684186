package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/pixelrelay/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) Put(_ context.Context, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memStore) records(t *testing.T) []Record {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, body := range m.objects {
		sc := bufio.NewScanner(bytes.NewReader(body))
		for sc.Scan() {
			var r Record
			require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
			out = append(out, r)
		}
	}
	return out
}

func event(id string) domain.TrackedEvent {
	q := 42
	return domain.TrackedEvent{
		ID: id, ChannelID: "c1", EventName: domain.EventLead, Status: domain.StatusSkipped,
		MatchQuality: &q, EventTime: time.Unix(1700000000, 0).UTC(),
		UserData: domain.HashedUserData{Emails: []string{"secret-hash"}},
	}
}

func TestBatchSink_FlushOnSizeAndClose(t *testing.T) {
	store := &memStore{}
	s := NewBatchSink(store, "events", 2, time.Hour)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	go s.Run(context.Background())

	s.Record(context.Background(), event("a"))
	s.Record(context.Background(), event("b"))
	s.Record(context.Background(), event("c"))
	s.Close()

	recs := store.records(t)
	assert.Len(t, recs, 3)
	assert.Len(t, store.objects, 2)
	for key, body := range store.objects {
		assert.True(t, strings.HasPrefix(key, "events/2024/05/01/"), key)
		assert.True(t, strings.HasSuffix(key, ".ndjson"), key)
		assert.NotContains(t, string(body), "secret-hash")
	}
	assert.Equal(t, 42, recs[0].Score)
	assert.Equal(t, "skipped", recs[0].Status)
}

func TestBatchSink_FlushOnInterval(t *testing.T) {
	store := &memStore{}
	s := NewBatchSink(store, "events", 100, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Record(ctx, event("a"))
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.objects) == 1
	}, time.Second, 5*time.Millisecond)
	s.Close()
}

func TestNewRecord_NoScore(t *testing.T) {
	r := NewRecord(domain.TrackedEvent{ID: "x", Status: domain.StatusDuplicate})
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, "duplicate", r.Status)
}
