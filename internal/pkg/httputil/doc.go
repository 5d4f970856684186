// Package httputil holds the JSON response helpers shared by the ingestion
// handlers. Error bodies always use ErrorResponse so clients can branch on
// the machine-readable code.
package httputil
