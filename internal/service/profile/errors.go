package profile

import "errors"

// Sentinel errors for the profile service layer.
var (
	ErrNotFound = errors.New("identity profile not found")
)
