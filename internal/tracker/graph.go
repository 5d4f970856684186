package tracker

import (
	"strings"
	"sync"

	"github.com/ignite/pixelrelay/internal/pii"
)

// Source names where a captured value came from.
type Source int

// Sources in ascending trust.
const (
	SourceMeta Source = iota + 1
	SourceDataLayer
	SourceURL
	SourceFormPrefill
	SourceFormSubmit
	SourceStored
	SourceExplicit
)

var sourceNames = map[Source]string{
	SourceMeta:        "meta",
	SourceDataLayer:   "data_layer",
	SourceURL:         "url",
	SourceFormPrefill: "form_prefill",
	SourceFormSubmit:  "form_submit",
	SourceStored:      "stored",
	SourceExplicit:    "explicit",
}

func (s Source) String() string { return sourceNames[s] }

// CapturedEntry is one captured value and its origin.
type CapturedEntry struct {
	Value  string
	Source Source
}

// IdentityGraph merges captured values per field. A value replaces the
// stored one when its source ranks at least as high; ties go to the newer
// write.
type IdentityGraph struct {
	mu      sync.Mutex
	entries map[pii.Field]CapturedEntry
}

func NewIdentityGraph() *IdentityGraph {
	return &IdentityGraph{entries: make(map[pii.Field]CapturedEntry)}
}

// Set records value for f and reports whether it was kept.
func (g *IdentityGraph) Set(f pii.Field, value string, src Source) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.entries[f]; ok && src < cur.Source {
		return false
	}
	g.entries[f] = CapturedEntry{Value: value, Source: src}
	return true
}

// SetKey resolves key as a field name or alias and records the value.
func (g *IdentityGraph) SetKey(key, value string, src Source) bool {
	f, ok := pii.ParseField(key)
	if !ok {
		return false
	}
	return g.Set(f, value, src)
}

// Get returns the entry for f.
func (g *IdentityGraph) Get(f pii.Field) (CapturedEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[f]
	return e, ok
}

// Snapshot copies the current entries.
func (g *IdentityGraph) Snapshot() map[pii.Field]CapturedEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[pii.Field]CapturedEntry, len(g.entries))
	for k, v := range g.entries {
		out[k] = v
	}
	return out
}

// Reset forgets everything captured.
func (g *IdentityGraph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = make(map[pii.Field]CapturedEntry)
}
