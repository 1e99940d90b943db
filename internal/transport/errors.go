package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures reported by the messaging API.
type ErrorKind string

const (
	KindUnknown      ErrorKind = "unknown"
	KindNotFound     ErrorKind = "not_found"     // message to delete/edit not found
	KindCantDelete   ErrorKind = "cant_delete"   // message can't be deleted (too old, service message)
	KindForbidden    ErrorKind = "forbidden"     // bot blocked, kicked, user deactivated
	KindUnauthorized ErrorKind = "unauthorized"  // bad token
	KindBadRequest   ErrorKind = "bad_request"   // any other 400
	KindRateLimited  ErrorKind = "rate_limited"  // 429
	KindNotModified  ErrorKind = "not_modified"  // edit with identical content
)

// DeliveryError is the structured error returned by Messenger implementations.
type DeliveryError struct {
	Op          string
	Kind        ErrorKind
	Code        int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (%s, code=%d)", e.Op, e.Description, e.Kind, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// KindOf returns the delivery error kind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsGoneOrUndeletable reports the two delete failures the purge job swallows.
func IsGoneOrUndeletable(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindCantDelete:
		return true
	}
	return false
}

// IsRecipientFailure reports failures caused by the recipient rather than by us:
// blocked bot, deleted chat, rejected payload.
func IsRecipientFailure(err error) bool {
	switch KindOf(err) {
	case KindForbidden, KindBadRequest, KindNotFound:
		return true
	}
	return false
}
