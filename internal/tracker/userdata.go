package tracker

import (
	"strings"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/matchquality"
	"github.com/ignite/pixelrelay/internal/pii"
)

// BuildUserData composes the identifiers for one event: captured graph,
// then the stored identity, then explicit per-call data, each layer
// overriding the one before. PII is hashed before it leaves the client.
// The returned score is the client-side match-quality estimate.
func (s *TrackerSession) BuildUserData(explicit *domain.UserDataPayload) (domain.UserDataPayload, int) {
	var raw domain.UserDataPayload
	for f, e := range s.graph.Snapshot() {
		pii.SetPayloadValue(&raw, f, e.Value)
	}

	stored := s.storedIdentity()
	for key, v := range stored.PII {
		if f, ok := pii.ParseField(key); ok && strings.TrimSpace(v) != "" {
			pii.SetPayloadValue(&raw, f, v)
		}
	}

	if explicit != nil {
		for _, f := range pii.Fields() {
			if v := pii.PayloadValue(*explicit, f); v != "" {
				pii.SetPayloadValue(&raw, f, v)
			}
		}
		raw.Emails = append(raw.Emails, explicit.Emails...)
		raw.Phones = append(raw.Phones, explicit.Phones...)
		raw.SubscriptionID = explicit.SubscriptionID
	}

	out := pii.ToPayload(pii.Hasher{}.HashPayload(raw))

	out.BrowserID = stored.BrowserID
	out.ClickID = s.clickIDValue()
	out.UserAgent = s.cfg.UserAgent
	if explicit != nil {
		if explicit.BrowserID != "" {
			out.BrowserID = explicit.BrowserID
		}
		if explicit.ClickID != "" {
			out.ClickID = explicit.ClickID
		}
		if explicit.UserAgent != "" {
			out.UserAgent = explicit.UserAgent
		}
		out.ClientIP = explicit.ClientIP
	}
	if out.ExternalID == "" && stored.VisitorID != "" {
		out.ExternalID = pii.SHA256Hex(stored.VisitorID)
	}
	return out, matchquality.Estimate(out)
}
