// Package domain defines the value types shared by the conversion pipeline:
// channels, tracked events and their delivery status, identity bundles and
// cross-session identity profiles.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation and state-transition methods are allowed (pure functions on the type)
//   - Constants and enums belong here
package domain
