package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/ignite/pixelrelay/internal/pkg/httputil"
)

// =============================================================================
// ERROR SANITIZER
// Internal errors (database details, hosts, queue names) never reach the
// client. 5xx responses carry a generic message and the full error is
// logged server-side.
// =============================================================================

// sanitizedError logs the full internal error and returns a public-safe message.
func sanitizedError(code int, internalErr error) string {
	if internalErr != nil {
		log.Printf("ERROR [%d]: %v", code, internalErr)
	}
	return safeErrorMessage(code, internalErr)
}

// respondSafeError sends a sanitized 500.
func respondSafeError(w http.ResponseWriter, internalErr error) {
	msg := sanitizedError(http.StatusInternalServerError, internalErr)
	httputil.ErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", msg, nil)
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
// For 400-level errors, the original message is typically fine (user input issues).
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}

	if internalErr == nil {
		return "An internal error occurred"
	}

	errStr := strings.ToLower(internalErr.Error())

	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "insert") ||
		strings.Contains(errStr, "scan") ||
		strings.Contains(errStr, "database"):
		return "A database error occurred"

	default:
		return "An internal error occurred"
	}
}
