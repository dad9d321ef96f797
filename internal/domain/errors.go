package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrValidation     = errors.New("validation")
	ErrNotFriends     = errors.New("not_friends")
	ErrBlocked        = errors.New("blocked")
	ErrBlockedBy      = errors.New("blocked_by")
	ErrStale          = errors.New("stale_state")
	ErrRateLimited    = errors.New("rate_limited")
	ErrRejected       = errors.New("rejected")
	ErrTransport      = errors.New("transport")
	ErrNotConnected   = errors.New("not_connected")
	ErrNoConversation = errors.New("no_conversation")
	ErrAlreadyBound   = errors.New("already_bound")
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// IsRelationshipError reports whether err explains why the peer cannot be
// reached, as opposed to a transport failure.
func IsRelationshipError(err error) bool {
	return errors.Is(err, ErrNotFriends) ||
		errors.Is(err, ErrBlocked) ||
		errors.Is(err, ErrBlockedBy) ||
		errors.Is(err, ErrForbidden)
}
