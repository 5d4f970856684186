package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/pixelrelay/internal/domain"
)

func TestHashPayload(t *testing.T) {
	p := domain.UserDataPayload{
		Email:     "John.Doe+test@EXAMPLE.com ",
		Emails:    []string{"john.doe+test@example.com", "alt@example.com", "broken"},
		Phone:     "+1 (555) 123-4567",
		FirstName: "John",
		Country:   "United States",
		Zip:       "not-hashed?",
		ClientIP:  " 203.0.113.7 ",
		ClickID:   "fb.1.1700000000000.abc",
	}
	u := Hasher{}.HashPayload(p)

	require.Len(t, u.Emails, 2, "duplicates and invalid values are dropped")
	assert.Equal(t, "da146c4d301ce4a9bf01c8384a5b2f8966b3ed853adf1ee08746be5703ebeebf", u.PrimaryEmail())
	assert.Equal(t, "d6736136ea896c1bfdc553e0e86e702c70d060d805696ca3e4e9e0961353860a", u.PrimaryPhone())
	assert.Equal(t, "96d9632f363564cc3032521409cf22a852f2032eec099ed5967c0d000cec607a", u.FirstName)
	assert.Equal(t, "79adb2a2fce5c6ba215fe5f27f532d4e7edbac4b6a5e09e1ef3a08084a904621", u.Country)
	assert.True(t, IsHashed(u.Zip))
	assert.Empty(t, u.LastName)
	assert.Equal(t, "203.0.113.7", u.ClientIP)
	assert.Equal(t, "fb.1.1700000000000.abc", u.ClickID)
}

func TestToPayload_RoundTripsThroughHashPayload(t *testing.T) {
	u := Hasher{}.HashPayload(domain.UserDataPayload{
		Email:  "a@x.io",
		Emails: []string{"b@x.io"},
		City:   "Austin",
	})
	again := Hasher{}.HashPayload(ToPayload(u))
	assert.Equal(t, u, again)
}
