// Package pii normalizes and hashes personal identifiers into the canonical
// form the advertising platform matches on.
//
// Every supported identifier is a Field. Each Field has exactly one
// normalizer in a fixed table; values that fail normalization are dropped
// (ok == false) rather than reported as errors. Values already shaped like a
// SHA-256 hex digest pass through untouched, so hashing is idempotent and
// client-hashed data survives a second pass on the server.
//
// The package is pure: identical input always yields byte-identical output.
package pii
