package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"talkosync/internal/domain"
)

// errorEnvelope accepts both the nested {"error":{...}} shape and the flat
// {"message": ...} shape the chat backend uses.
type errorEnvelope struct {
	Error   *apiError `json:"error,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError carries the server's message while unwrapping to a domain sentinel.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) UserMessage() string { return e.Message }

// routeKind changes how 403/404/409 are interpreted.
type routeKind int

const (
	routeDefault routeKind = iota
	routeLifecycle
	routeMessaging
)

func readError(resp *http.Response, kind routeKind) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var env errorEnvelope
	_ = json.Unmarshal(body, &env)
	code, msg := env.Code, env.Message
	if env.Error != nil {
		code, msg = env.Error.Code, env.Error.Message
	}

	apiErr := &APIError{Status: resp.StatusCode, Code: code, Message: msg}
	apiErr.Err = classify(resp.StatusCode, code, kind)
	if apiErr.Err == domain.ErrValidation {
		fields := map[string]string{"request": "invalid"}
		if msg != "" {
			fields["request"] = msg
		}
		apiErr.Err = domain.NewValidationError(fields)
	}
	return apiErr
}

func classify(status int, code string, kind routeKind) error {
	switch code {
	case "not_friends":
		return domain.ErrNotFriends
	case "blocked", "user_blocked":
		return domain.ErrBlocked
	case "blocked_by", "you_are_blocked":
		return domain.ErrBlockedBy
	}

	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return domain.ErrValidation
	case status == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case status == http.StatusForbidden:
		if kind == routeMessaging {
			return domain.ErrNotFriends
		}
		return domain.ErrForbidden
	case status == http.StatusNotFound, status == http.StatusConflict:
		if kind == routeLifecycle {
			return domain.ErrStale
		}
		return domain.ErrNotFound
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case status >= 400 && status < 500:
		return domain.ErrRejected
	default:
		return domain.ErrTransport
	}
}
