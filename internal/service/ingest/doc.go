// Package ingest is the admission gate of the conversion pipeline.
//
// Every submitted event is hashed, enriched against the identity store and
// scored, then persisted in exactly one of three states:
//
//	Duplicate  another event with the same channel and event id is Pending or Sent
//	Skipped    the match-quality score is below the configured minimum
//	Pending    admitted and queued for batch dispatch
//
// The duplicate decision is backed by a partial unique index on
// (channel_id, event_id) over Pending and Sent rows. The pre-read in Admit
// only serves the common case; a unique violation on insert is treated the
// same way, so two concurrent identical submissions can never both be
// delivered.
package ingest
