package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inner struct {
	IP   string   `json:"client_ip_address,omitempty" validate:"omitempty,ip"`
	Tags []string `json:"tags,omitempty" validate:"omitempty,max=2"`
}

type request struct {
	Channel string `json:"channel_id" validate:"required,max=8"`
	URL     string `json:"source_url" validate:"required,url"`
	Inner   *inner `json:"user_data,omitempty"`
	Secret  string `json:"-" validate:"omitempty,max=1"`
}

func TestFields_Valid(t *testing.T) {
	assert.Nil(t, Fields(&request{Channel: "c1", URL: "https://example.com/a"}))
}

func TestFields_ReportsJSONPaths(t *testing.T) {
	fields := Fields(&request{
		Channel: "much-too-long",
		Inner:   &inner{IP: "not-an-ip", Tags: []string{"a", "b", "c"}},
	})
	require.NotNil(t, fields)
	assert.Equal(t, "must be at most 8 characters", fields["channel_id"])
	assert.Equal(t, "is required", fields["source_url"])
	assert.Equal(t, "must be an IPv4 or IPv6 address", fields["user_data.client_ip_address"])
	assert.Equal(t, "must have at most 2 entries", fields["user_data.tags"])
}

func TestValidator_Singleton(t *testing.T) {
	assert.Same(t, Validator(), Validator())
}
