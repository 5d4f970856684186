package profile

import (
	"context"

	"github.com/ignite/pixelrelay/internal/domain"
)

// Repository defines the data access contract for identity profiles.
type Repository interface {
	// FindBy returns a profile owned by channelID or by no channel whose key
	// identifier equals value. Channel-owned profiles win over global ones,
	// then the most recently seen wins. For LookupEmail and LookupPhone the
	// secondary lists are searched as well. Returns ErrNotFound when nothing
	// matches.
	FindBy(ctx context.Context, channelID string, key domain.LookupKey, value string) (*domain.IdentityProfile, error)

	// Create inserts a new profile and sets its ID.
	Create(ctx context.Context, p *domain.IdentityProfile) error

	// Update persists every field of an existing profile.
	Update(ctx context.Context, p *domain.IdentityProfile) error
}
