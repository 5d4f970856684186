// Package profile implements the durable identity store used to enrich
// conversion events.
//
// A profile accumulates hashed identifiers for one subject across sessions.
// Enrichment looks a profile up by the strongest identifier available,
// fills gaps on the incoming event from it, and then folds the event's
// identifiers back into the profile. Known values are never overwritten in
// either direction.
//
// The service depends only on the Repository interface in repository.go.
package profile
