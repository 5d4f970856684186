package tracker

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignite/pixelrelay/internal/pii"
)

// urlParams maps accepted query parameters to fields.
var urlParams = map[string]pii.Field{
	"email":       pii.Email,
	"em":          pii.Email,
	"phone":       pii.Phone,
	"ph":          pii.Phone,
	"fn":          pii.FirstName,
	"first_name":  pii.FirstName,
	"ln":          pii.LastName,
	"last_name":   pii.LastName,
	"external_id": pii.ExternalID,
	"uid":         pii.ExternalID,
	"zip":         pii.Zip,
	"city":        pii.City,
	"state":       pii.State,
	"country":     pii.Country,
}

// autocompleteFields maps the HTML autocomplete tokens we recognise.
var autocompleteFields = map[string]pii.Field{
	"email":          pii.Email,
	"tel":            pii.Phone,
	"tel-national":   pii.Phone,
	"given-name":     pii.FirstName,
	"family-name":    pii.LastName,
	"sex":            pii.Gender,
	"bday":           pii.DateOfBirth,
	"address-level2": pii.City,
	"address-level1": pii.State,
	"postal-code":    pii.Zip,
	"country":        pii.Country,
	"country-name":   pii.Country,
}

// nameHints are substrings of name/id/placeholder attributes, checked in
// order so "email" wins over a generic "name".
var nameHints = []struct {
	hint  string
	field pii.Field
}{
	{"email", pii.Email},
	{"e-mail", pii.Email},
	{"phone", pii.Phone},
	{"mobile", pii.Phone},
	{"tel", pii.Phone},
	{"first", pii.FirstName},
	{"fname", pii.FirstName},
	{"given", pii.FirstName},
	{"last", pii.LastName},
	{"lname", pii.LastName},
	{"surname", pii.LastName},
	{"family", pii.LastName},
	{"birth", pii.DateOfBirth},
	{"dob", pii.DateOfBirth},
	{"gender", pii.Gender},
	{"zip", pii.Zip},
	{"postal", pii.Zip},
	{"postcode", pii.Zip},
	{"city", pii.City},
	{"town", pii.City},
	{"state", pii.State},
	{"province", pii.State},
	{"region", pii.State},
	{"country", pii.Country},
}

// CaptureURL records identifiers carried in a landing-page URL. An fbclid
// parameter becomes the session's click id.
func (s *TrackerSession) CaptureURL(raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	q := u.Query()
	for key, values := range q {
		f, ok := urlParams[strings.ToLower(key)]
		if !ok || len(values) == 0 {
			continue
		}
		s.graph.Set(f, values[0], SourceURL)
	}
	if id := q.Get("fbclid"); id != "" {
		s.setClickID(fmt.Sprintf("fb.1.%d.%s", s.now().UnixMilli(), id))
	}
}

// CapturePage scans page HTML for identity meta tags and pre-filled form
// fields.
func (s *TrackerSession) CapturePage(r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}

	doc.Find(`meta[name^="pr:"], meta[property^="user:"]`).Each(func(_ int, m *goquery.Selection) {
		key, _ := m.Attr("name")
		if key == "" {
			key, _ = m.Attr("property")
		}
		_, key, _ = strings.Cut(key, ":")
		content, _ := m.Attr("content")
		s.graph.SetKey(key, content, SourceMeta)
	})

	for f, val := range s.scanFields(doc.Selection) {
		s.graph.Set(f, val, SourceFormPrefill)
	}
	return nil
}

// CaptureFormHTML records the fields of a submitted form given its markup
// with current values.
func (s *TrackerSession) CaptureFormHTML(r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	for f, val := range s.scanFields(doc.Selection) {
		s.graph.Set(f, val, SourceFormSubmit)
	}
	return nil
}

// CaptureForm records submitted form values keyed by input name.
func (s *TrackerSession) CaptureForm(values map[string]string) {
	for name, val := range values {
		if f, ok := s.fieldForName(name); ok {
			s.graph.Set(f, val, SourceFormSubmit)
		}
	}
}

// Identify records explicitly supplied identifiers and persists their
// hashes.
// Keys are field names or aliases ("email", "em", "phone", ...).
func (s *TrackerSession) Identify(values map[string]string) {
	stored := map[string]string{}
	for key, val := range values {
		f, ok := pii.ParseField(key)
		if !ok {
			continue
		}
		if !s.graph.Set(f, val, SourceExplicit) {
			continue
		}
		// Only digests are written to disk.
		if h, ok := pii.Hash(f, val); ok {
			stored[f.Key()] = h
		}
	}
	if len(stored) == 0 {
		return
	}
	s.updateStored(func(id *StoredIdentity) {
		if id.PII == nil {
			id.PII = map[string]string{}
		}
		for k, v := range stored {
			id.PII[k] = v
		}
	})
}

// scanFields detects identity inputs under root. Selector overrides win
// over heuristics.
func (s *TrackerSession) scanFields(root *goquery.Selection) map[pii.Field]string {
	out := map[pii.Field]string{}
	for key, sel := range s.cfg.SelectorOverrides {
		f, ok := pii.ParseField(key)
		if !ok {
			continue
		}
		root.Find(sel).EachWithBreak(func(_ int, in *goquery.Selection) bool {
			if v := inputValue(in); v != "" {
				out[f] = v
				return false
			}
			return true
		})
	}

	root.Find("input, select, textarea").Each(func(_ int, in *goquery.Selection) {
		typ := strings.ToLower(in.AttrOr("type", "text"))
		if typ == "password" || typ == "hidden" || typ == "submit" || typ == "checkbox" {
			return
		}
		f, ok := detectField(in)
		if !ok {
			return
		}
		if _, taken := out[f]; taken {
			return
		}
		if v := inputValue(in); v != "" {
			out[f] = v
		}
	})
	return out
}

func (s *TrackerSession) fieldForName(name string) (pii.Field, bool) {
	if f, ok := pii.ParseField(name); ok {
		return f, true
	}
	return hintField(name)
}

func detectField(in *goquery.Selection) (pii.Field, bool) {
	switch strings.ToLower(in.AttrOr("type", "")) {
	case "email":
		return pii.Email, true
	case "tel":
		return pii.Phone, true
	}
	if ac := strings.ToLower(in.AttrOr("autocomplete", "")); ac != "" {
		// Tokens may carry section and shipping/billing prefixes.
		parts := strings.Fields(ac)
		if f, ok := autocompleteFields[parts[len(parts)-1]]; ok {
			return f, true
		}
	}
	for _, attr := range []string{"name", "id", "placeholder"} {
		v := in.AttrOr(attr, "")
		if v == "" {
			continue
		}
		if f, ok := pii.ParseField(v); ok {
			return f, true
		}
		if f, ok := hintField(v); ok {
			return f, true
		}
	}
	return 0, false
}

func hintField(v string) (pii.Field, bool) {
	v = strings.ToLower(v)
	for _, h := range nameHints {
		if strings.Contains(v, h.hint) {
			return h.field, true
		}
	}
	return 0, false
}

func inputValue(in *goquery.Selection) string {
	if goquery.NodeName(in) == "select" {
		return strings.TrimSpace(in.Find("option[selected]").First().AttrOr("value", ""))
	}
	if goquery.NodeName(in) == "textarea" {
		return strings.TrimSpace(in.Text())
	}
	return strings.TrimSpace(in.AttrOr("value", ""))
}

// DataLayer is a tag-manager style list of pushed objects. Hooks see every
// later push.
type DataLayer struct {
	mu      sync.Mutex
	entries []map[string]any
	hooks   []func(map[string]any)
}

// Push appends entry and runs the hooks.
func (d *DataLayer) Push(entry map[string]any) {
	d.mu.Lock()
	d.entries = append(d.entries, entry)
	hooks := append([]func(map[string]any){}, d.hooks...)
	d.mu.Unlock()
	for _, h := range hooks {
		h(entry)
	}
}

// Hook replays existing entries through fn and intercepts future pushes.
func (d *DataLayer) Hook(fn func(map[string]any)) {
	d.mu.Lock()
	existing := append([]map[string]any{}, d.entries...)
	d.hooks = append(d.hooks, fn)
	d.mu.Unlock()
	for _, e := range existing {
		fn(e)
	}
}

// AttachDataLayer captures identifiers from dl, now and on later pushes.
// Values are read from the top level and from nested user_data, user and
// customer objects.
func (s *TrackerSession) AttachDataLayer(dl *DataLayer) {
	dl.Hook(func(entry map[string]any) {
		s.captureDataLayerEntry(entry, 0)
	})
}

func (s *TrackerSession) captureDataLayerEntry(entry map[string]any, depth int) {
	for key, v := range entry {
		switch val := v.(type) {
		case string:
			if f, ok := s.fieldForDataLayerKey(key); ok {
				s.graph.Set(f, val, SourceDataLayer)
			}
		case map[string]any:
			if depth == 0 && (key == "user_data" || key == "user" || key == "customer") {
				s.captureDataLayerEntry(val, depth+1)
			}
		}
	}
}

func (s *TrackerSession) fieldForDataLayerKey(key string) (pii.Field, bool) {
	k := strings.ToLower(key)
	if f, ok := pii.ParseField(k); ok {
		return f, true
	}
	k = strings.TrimPrefix(k, "user_")
	k = strings.TrimPrefix(k, "customer_")
	return pii.ParseField(k)
}
