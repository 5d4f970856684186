package ingest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the admission gate.
var (
	ErrDuplicate        = errors.New("duplicate event")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrChannelInactive  = errors.New("channel inactive")
	ErrOriginNotAllowed = errors.New("origin not allowed for channel")
	ErrEventNotFound    = errors.New("event not found")
	ErrInvalidEvent     = errors.New("invalid event")
)

// ValidationError lists per-field problems. It matches ErrInvalidEvent.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidEvent }

func invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
