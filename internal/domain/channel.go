package domain

import (
	"net/url"
	"strings"
	"time"
)

// Channel is one delivery destination: an advertising-platform pixel plus
// the credential used to post conversions to it.
type Channel struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	PixelID        string    `json:"pixel_id" db:"pixel_id"`
	AccessToken    string    `json:"-" db:"access_token"`
	TestEventCode  string    `json:"test_event_code,omitempty" db:"test_event_code"`
	AllowedDomains []string  `json:"allowed_domains" db:"allowed_domains"`
	Active         bool      `json:"active" db:"active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// AllowsOrigin reports whether an event from origin may be recorded for this
// channel. origin may be a full URL or a bare host. An empty allow-list
// accepts everything.
//
// Entries match in three ways: exact host ("shop.example.com"), wildcard
// subdomains ("*.example.com" matches "a.example.com" but not
// "example.com"), and bare suffix ("example.com" also matches any
// subdomain of example.com).
func (c Channel) AllowsOrigin(origin string) bool {
	if len(c.AllowedDomains) == 0 {
		return true
	}
	host := HostOf(origin)
	if host == "" {
		return false
	}
	for _, d := range c.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		switch {
		case d == "":
			continue
		case d == host:
			return true
		case strings.HasPrefix(d, "*."):
			if strings.HasSuffix(host, d[1:]) {
				return true
			}
		case strings.HasSuffix(host, "."+d):
			return true
		}
	}
	return false
}

// HostOf extracts the lowercase host (without port) from a URL or host string.
func HostOf(origin string) string {
	s := strings.TrimSpace(origin)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if h, _, ok := strings.Cut(s, ":"); ok {
		s = h
	}
	return strings.ToLower(s)
}
