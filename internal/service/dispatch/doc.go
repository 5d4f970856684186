// Package dispatch delivers admitted events to the conversions API.
//
// A dispatch run works one channel at a time. It selects dispatchable
// events (Pending, or Failed below the attempt cap) in event-time order,
// submits them in chunks of up to 1000 and records the outcome for the
// whole chunk: every event is marked Sent with the returned trace id, or
// Failed with the error and raw response and its attempt counter bumped.
// A run stops at the first failed chunk; the pending sweeper brings the
// channel back later.
//
// Callers must serialize runs per channel (the worker takes a distributed
// lock). Runs for different channels share nothing.
package dispatch
