package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnauthorized
	KindBadRequest
	KindTimedOut
	KindNetwork
	KindChatMigrated
	KindGeneric
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	case KindTimedOut:
		return "timed_out"
	case KindNetwork:
		return "network"
	case KindChatMigrated:
		return "chat_migrated"
	default:
		return "generic"
	}
}

// APIError is returned for every failed Bot API call.
type APIError struct {
	Kind            ErrorKind
	Method          string
	Code            int
	Description     string
	MigrateToChatID int64
	RetryAfter      time.Duration
	Err             error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telegram %s: %s: %v", e.Method, e.Kind, e.Err)
	}
	if e.Description != "" {
		return fmt.Sprintf("telegram %s: %s (%d): %s", e.Method, e.Kind, e.Code, e.Description)
	}
	return fmt.Sprintf("telegram %s: %s (%d)", e.Method, e.Kind, e.Code)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf maps any error to a kind. Errors that did not come from the Bot
// API client are classified by their network behaviour.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return classifyTransport(err)
}

func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimedOut
		}
		return KindNetwork
	}
	return KindGeneric
}

type apiResponseParameters struct {
	MigrateToChatID int64 `json:"migrate_to_chat_id"`
	RetryAfter      int   `json:"retry_after"`
}

func classifyResponse(method string, status int, code int, description string, params *apiResponseParameters) *APIError {
	if code == 0 {
		code = status
	}
	apiErr := &APIError{Method: method, Code: code, Description: description}
	if params != nil {
		apiErr.MigrateToChatID = params.MigrateToChatID
		apiErr.RetryAfter = time.Duration(params.RetryAfter) * time.Second
	}

	switch {
	case code == 401 || code == 403:
		apiErr.Kind = KindUnauthorized
	case code == 400 && apiErr.MigrateToChatID != 0:
		apiErr.Kind = KindChatMigrated
	case code == 400:
		apiErr.Kind = KindBadRequest
	case code == 429 || code >= 500:
		apiErr.Kind = KindNetwork
	default:
		apiErr.Kind = KindGeneric
	}
	return apiErr
}
