package domain

import "time"

// HashedUserData is the canonical identifier bundle carried by an event.
// PII fields hold lowercase SHA-256 hex digests or are empty. Emails and
// Phones are deduplicated and ordered; the first entry is the primary.
// The delivery metadata at the bottom is never hashed.
type HashedUserData struct {
	Emails      []string `json:"em,omitempty"`
	Phones      []string `json:"ph,omitempty"`
	FirstName   string   `json:"fn,omitempty"`
	LastName    string   `json:"ln,omitempty"`
	Gender      string   `json:"ge,omitempty"`
	DateOfBirth string   `json:"db,omitempty"`
	City        string   `json:"ct,omitempty"`
	State       string   `json:"st,omitempty"`
	Zip         string   `json:"zp,omitempty"`
	Country     string   `json:"country,omitempty"`
	ExternalID  string   `json:"external_id,omitempty"`

	ClientIP       string `json:"client_ip_address,omitempty"`
	UserAgent      string `json:"client_user_agent,omitempty"`
	ClickID        string `json:"fbc,omitempty"`
	BrowserID      string `json:"fbp,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// PrimaryEmail is the first hashed email, or "".
func (u HashedUserData) PrimaryEmail() string {
	if len(u.Emails) == 0 {
		return ""
	}
	return u.Emails[0]
}

// PrimaryPhone is the first hashed phone, or "".
func (u HashedUserData) PrimaryPhone() string {
	if len(u.Phones) == 0 {
		return ""
	}
	return u.Phones[0]
}

// UserDataPayload is the wire form of user data as clients submit it.
// Values may be raw or already hashed.
type UserDataPayload struct {
	Email          string   `json:"em,omitempty" validate:"omitempty,max=512"`
	Emails         []string `json:"emails,omitempty" validate:"omitempty,max=10,dive,max=512"`
	Phone          string   `json:"ph,omitempty" validate:"omitempty,max=64"`
	Phones         []string `json:"phones,omitempty" validate:"omitempty,max=10,dive,max=64"`
	FirstName      string   `json:"fn,omitempty" validate:"omitempty,max=256"`
	LastName       string   `json:"ln,omitempty" validate:"omitempty,max=256"`
	Gender         string   `json:"ge,omitempty" validate:"omitempty,max=64"`
	DateOfBirth    string   `json:"db,omitempty" validate:"omitempty,max=64"`
	City           string   `json:"ct,omitempty" validate:"omitempty,max=256"`
	State          string   `json:"st,omitempty" validate:"omitempty,max=256"`
	Zip            string   `json:"zp,omitempty" validate:"omitempty,max=64"`
	Country        string   `json:"country,omitempty" validate:"omitempty,max=128"`
	ExternalID     string   `json:"external_id,omitempty" validate:"omitempty,max=512"`
	ClientIP       string   `json:"client_ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent      string   `json:"client_user_agent,omitempty" validate:"omitempty,max=1024"`
	ClickID        string   `json:"fbc,omitempty" validate:"omitempty,max=512"`
	BrowserID      string   `json:"fbp,omitempty" validate:"omitempty,max=256"`
	SubscriptionID string   `json:"subscription_id,omitempty" validate:"omitempty,max=256"`
}

// IdentityProfile accumulates hashed identifiers for one subject across
// sessions. Single-value fields are first-fill-wins; Emails and Phones are
// capped, deduplicated lists. An empty ChannelID means the profile is global.
type IdentityProfile struct {
	ID           string    `json:"id" db:"id"`
	ChannelID    string    `json:"channel_id,omitempty" db:"channel_id"`
	ExternalID   string    `json:"external_id,omitempty" db:"external_id"`
	Email        string    `json:"email,omitempty" db:"email"`
	Phone        string    `json:"phone,omitempty" db:"phone"`
	VisitorID    string    `json:"visitor_id,omitempty" db:"visitor_id"`
	BrowserID    string    `json:"browser_id,omitempty" db:"browser_id"`
	ClickID      string    `json:"click_id,omitempty" db:"click_id"`
	Emails       []string  `json:"emails,omitempty" db:"emails"`
	Phones       []string  `json:"phones,omitempty" db:"phones"`
	FirstName    string    `json:"fn,omitempty" db:"first_name"`
	LastName     string    `json:"ln,omitempty" db:"last_name"`
	Gender       string    `json:"ge,omitempty" db:"gender"`
	DateOfBirth  string    `json:"db,omitempty" db:"date_of_birth"`
	City         string    `json:"ct,omitempty" db:"city"`
	State        string    `json:"st,omitempty" db:"state"`
	Zip          string    `json:"zp,omitempty" db:"zip"`
	Country      string    `json:"country,omitempty" db:"country"`
	MatchQuality int       `json:"match_quality" db:"match_quality"`
	EventCount   int       `json:"event_count" db:"event_count"`
	FirstSeenAt  time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// LookupKey names the identifier a profile lookup is performed on.
type LookupKey string

const (
	LookupExternalID LookupKey = "external_id"
	LookupEmail      LookupKey = "email"
	LookupPhone      LookupKey = "phone"
	LookupVisitorID  LookupKey = "visitor_id"
	LookupBrowserID  LookupKey = "browser_id"
)

// LookupOrder is the precedence profile enrichment searches in.
var LookupOrder = []LookupKey{LookupExternalID, LookupEmail, LookupPhone, LookupVisitorID, LookupBrowserID}
