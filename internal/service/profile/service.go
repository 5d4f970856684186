package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/matchquality"
	"github.com/ignite/pixelrelay/internal/pii"
)

// DefaultListCap bounds the email and phone lists kept on a profile.
const DefaultListCap = 10

// Service implements profile lookup and merge. It is safe for concurrent
// use; concurrent merges for the same subject are last-writer-wins.
type Service struct {
	repo    Repository
	listCap int
	global  bool
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithListCap overrides DefaultListCap.
func WithListCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.listCap = n
		}
	}
}

// WithGlobalScope makes new profiles global instead of channel-owned.
// Lookups always consult both.
func WithGlobalScope(global bool) Option {
	return func(s *Service) { s.global = global }
}

// WithClock is for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a profile service backed by the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, listCap: DefaultListCap, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subject identifies whose event is being enriched.
type Subject struct {
	ChannelID string
	VisitorID string
	// RawPhone is the unhashed phone as submitted, if any. It is only used
	// to infer a country and is never stored.
	RawPhone string
}

// Enrichment is the outcome of Enrich.
type Enrichment struct {
	UserData domain.HashedUserData
	Profile  *domain.IdentityProfile
	Filled   []string
	Created  bool
}

// Enrich fills empty fields of u from the subject's profile and then
// updates (or creates) that profile with everything u carries. A bundle
// without any lookup identifier is returned unchanged and no profile is
// written.
func (s *Service) Enrich(ctx context.Context, sub Subject, u domain.HashedUserData) (*Enrichment, error) {
	keys := lookupCandidates(u, sub.VisitorID)
	if len(keys) == 0 {
		out := &Enrichment{UserData: u}
		s.inferCountry(out, sub.RawPhone)
		return out, nil
	}

	found, err := s.lookup(ctx, sub.ChannelID, keys)
	if err != nil {
		return nil, err
	}

	out := &Enrichment{UserData: u}
	if found != nil {
		out.UserData, out.Filled = fillFromProfile(u, found, s.listCap)
	}
	s.inferCountry(out, sub.RawPhone)

	now := s.now().UTC()
	if found == nil {
		p := &domain.IdentityProfile{ChannelID: sub.ChannelID, FirstSeenAt: now}
		if s.global {
			p.ChannelID = ""
		}
		mergeIntoProfile(p, out.UserData, sub.VisitorID, s.listCap)
		p.EventCount = 1
		p.LastSeenAt = now
		p.MatchQuality = matchquality.Score(profileBundle(p))
		if err := s.repo.Create(ctx, p); err != nil {
			return nil, fmt.Errorf("create profile: %w", err)
		}
		out.Profile = p
		out.Created = true
		return out, nil
	}

	mergeIntoProfile(found, out.UserData, sub.VisitorID, s.listCap)
	found.EventCount++
	found.LastSeenAt = now
	found.MatchQuality = matchquality.Score(profileBundle(found))
	if err := s.repo.Update(ctx, found); err != nil {
		return nil, fmt.Errorf("update profile %s: %w", found.ID, err)
	}
	out.Profile = found
	return out, nil
}

type candidate struct {
	key   domain.LookupKey
	value string
}

func lookupCandidates(u domain.HashedUserData, visitorID string) []candidate {
	var out []candidate
	if u.ExternalID != "" {
		out = append(out, candidate{domain.LookupExternalID, u.ExternalID})
	}
	for _, e := range u.Emails {
		out = append(out, candidate{domain.LookupEmail, e})
	}
	for _, p := range u.Phones {
		out = append(out, candidate{domain.LookupPhone, p})
	}
	if visitorID != "" {
		out = append(out, candidate{domain.LookupVisitorID, visitorID})
	}
	if u.BrowserID != "" {
		out = append(out, candidate{domain.LookupBrowserID, u.BrowserID})
	}
	return out
}

// lookup walks the candidates in precedence order; the first hit wins.
func (s *Service) lookup(ctx context.Context, channelID string, keys []candidate) (*domain.IdentityProfile, error) {
	for _, c := range keys {
		p, err := s.repo.FindBy(ctx, channelID, c.key, c.value)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find profile by %s: %w", c.key, err)
		}
		return p, nil
	}
	return nil, nil
}

func (s *Service) inferCountry(out *Enrichment, rawPhone string) {
	if out.UserData.Country != "" || rawPhone == "" {
		return
	}
	code, ok := pii.CountryFromPhone(rawPhone)
	if !ok {
		return
	}
	if h, ok := pii.Hash(pii.Country, code); ok {
		out.UserData.Country = h
		out.Filled = append(out.Filled, "country")
	}
}

// fillFromProfile copies profile values into empty slots of u and unions
// the identifier lists. It returns the names of the slots it filled.
func fillFromProfile(u domain.HashedUserData, p *domain.IdentityProfile, listCap int) (domain.HashedUserData, []string) {
	var filled []string
	fill := func(dst *string, src, name string) {
		if *dst == "" && src != "" {
			*dst = src
			filled = append(filled, name)
		}
	}
	fill(&u.ExternalID, p.ExternalID, "external_id")
	fill(&u.FirstName, p.FirstName, "fn")
	fill(&u.LastName, p.LastName, "ln")
	fill(&u.Gender, p.Gender, "ge")
	fill(&u.DateOfBirth, p.DateOfBirth, "db")
	fill(&u.City, p.City, "ct")
	fill(&u.State, p.State, "st")
	fill(&u.Zip, p.Zip, "zp")
	fill(&u.Country, p.Country, "country")
	fill(&u.BrowserID, p.BrowserID, "fbp")
	fill(&u.ClickID, p.ClickID, "fbc")

	emails := union(u.Emails, profileList(p.Email, p.Emails), listCap)
	if len(emails) > len(u.Emails) {
		filled = append(filled, "em")
	}
	u.Emails = emails
	phones := union(u.Phones, profileList(p.Phone, p.Phones), listCap)
	if len(phones) > len(u.Phones) {
		filled = append(filled, "ph")
	}
	u.Phones = phones
	return u, filled
}

// mergeIntoProfile is the mirror of fillFromProfile: profile fields are
// only set when empty, lists are unioned.
func mergeIntoProfile(p *domain.IdentityProfile, u domain.HashedUserData, visitorID string, listCap int) {
	set := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	set(&p.ExternalID, u.ExternalID)
	set(&p.FirstName, u.FirstName)
	set(&p.LastName, u.LastName)
	set(&p.Gender, u.Gender)
	set(&p.DateOfBirth, u.DateOfBirth)
	set(&p.City, u.City)
	set(&p.State, u.State)
	set(&p.Zip, u.Zip)
	set(&p.Country, u.Country)
	set(&p.VisitorID, visitorID)
	set(&p.BrowserID, u.BrowserID)
	set(&p.ClickID, u.ClickID)

	p.Emails = union(profileList(p.Email, p.Emails), u.Emails, listCap)
	p.Phones = union(profileList(p.Phone, p.Phones), u.Phones, listCap)
	if len(p.Emails) > 0 {
		p.Email = p.Emails[0]
	}
	if len(p.Phones) > 0 {
		p.Phone = p.Phones[0]
	}
}

func profileList(primary string, rest []string) []string {
	if primary == "" {
		return rest
	}
	return append([]string{primary}, rest...)
}

// union keeps all of a and appends unseen values of b while the result is
// shorter than max.
func union(a, b []string, max int) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, v := range a {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if len(out) >= max {
			break
		}
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func profileBundle(p *domain.IdentityProfile) domain.HashedUserData {
	return domain.HashedUserData{
		Emails:      p.Emails,
		Phones:      p.Phones,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Gender:      p.Gender,
		DateOfBirth: p.DateOfBirth,
		City:        p.City,
		State:       p.State,
		Zip:         p.Zip,
		Country:     p.Country,
		ExternalID:  p.ExternalID,
		ClickID:     p.ClickID,
		BrowserID:   p.BrowserID,
	}
}
