// Package tracker is the client side of the relay: a TrackerSession
// captures identifiers from the page, builds hashed user data, coalesces
// events into micro-batches and delivers them through a chain of
// progressively more resilient transports.
//
// A session is single-owner state. Create one per page view (or per
// long-lived client) with New and pass it around explicitly.
package tracker
