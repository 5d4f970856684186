package pii

import (
	"strings"

	"github.com/ignite/pixelrelay/internal/domain"
)

// PayloadValue returns the raw single value of f in p.
func PayloadValue(p domain.UserDataPayload, f Field) string {
	switch f {
	case Email:
		return p.Email
	case Phone:
		return p.Phone
	case FirstName:
		return p.FirstName
	case LastName:
		return p.LastName
	case Gender:
		return p.Gender
	case DateOfBirth:
		return p.DateOfBirth
	case City:
		return p.City
	case State:
		return p.State
	case Zip:
		return p.Zip
	case Country:
		return p.Country
	case ExternalID:
		return p.ExternalID
	}
	return ""
}

// SetPayloadValue writes v into the slot for f.
func SetPayloadValue(p *domain.UserDataPayload, f Field, v string) {
	switch f {
	case Email:
		p.Email = v
	case Phone:
		p.Phone = v
	case FirstName:
		p.FirstName = v
	case LastName:
		p.LastName = v
	case Gender:
		p.Gender = v
	case DateOfBirth:
		p.DateOfBirth = v
	case City:
		p.City = v
	case State:
		p.State = v
	case Zip:
		p.Zip = v
	case Country:
		p.Country = v
	case ExternalID:
		p.ExternalID = v
	}
}

// BundleValue returns the hashed single value of f in u. For the list
// fields it is the primary entry.
func BundleValue(u domain.HashedUserData, f Field) string {
	switch f {
	case Email:
		return u.PrimaryEmail()
	case Phone:
		return u.PrimaryPhone()
	case FirstName:
		return u.FirstName
	case LastName:
		return u.LastName
	case Gender:
		return u.Gender
	case DateOfBirth:
		return u.DateOfBirth
	case City:
		return u.City
	case State:
		return u.State
	case Zip:
		return u.Zip
	case Country:
		return u.Country
	case ExternalID:
		return u.ExternalID
	}
	return ""
}

// HashPayload turns a client payload into the canonical bundle. Unusable
// values are dropped silently; delivery metadata is copied as-is.
func (h Hasher) HashPayload(p domain.UserDataPayload) domain.HashedUserData {
	u := domain.HashedUserData{
		Emails:         h.HashAll(Email, prepend(p.Email, p.Emails)),
		Phones:         h.HashAll(Phone, prepend(p.Phone, p.Phones)),
		ClientIP:       strings.TrimSpace(p.ClientIP),
		UserAgent:      strings.TrimSpace(p.UserAgent),
		ClickID:        strings.TrimSpace(p.ClickID),
		BrowserID:      strings.TrimSpace(p.BrowserID),
		SubscriptionID: strings.TrimSpace(p.SubscriptionID),
	}
	for _, f := range Fields() {
		if f == Email || f == Phone {
			continue
		}
		if d, ok := h.Hash(f, PayloadValue(p, f)); ok {
			setBundleValue(&u, f, d)
		}
	}
	return u
}

// ToPayload renders a bundle in wire form. Every PII value is a digest.
func ToPayload(u domain.HashedUserData) domain.UserDataPayload {
	p := domain.UserDataPayload{
		ClientIP:       u.ClientIP,
		UserAgent:      u.UserAgent,
		ClickID:        u.ClickID,
		BrowserID:      u.BrowserID,
		SubscriptionID: u.SubscriptionID,
	}
	for _, f := range Fields() {
		SetPayloadValue(&p, f, BundleValue(u, f))
	}
	if len(u.Emails) > 1 {
		p.Emails = append([]string(nil), u.Emails[1:]...)
	}
	if len(u.Phones) > 1 {
		p.Phones = append([]string(nil), u.Phones[1:]...)
	}
	return p
}

func setBundleValue(u *domain.HashedUserData, f Field, v string) {
	switch f {
	case FirstName:
		u.FirstName = v
	case LastName:
		u.LastName = v
	case Gender:
		u.Gender = v
	case DateOfBirth:
		u.DateOfBirth = v
	case City:
		u.City = v
	case State:
		u.State = v
	case Zip:
		u.Zip = v
	case Country:
		u.Country = v
	case ExternalID:
		u.ExternalID = v
	}
}

func prepend(first string, rest []string) []string {
	if strings.TrimSpace(first) == "" {
		return rest
	}
	return append([]string{first}, rest...)
}
