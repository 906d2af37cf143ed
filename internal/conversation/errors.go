package conversation

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrorRateLimited         ErrorCode = "RATE_LIMITED"
	ErrorNetwork             ErrorCode = "NETWORK"
	ErrorUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorMalformedResponse   ErrorCode = "MALFORMED_RESPONSE"
	ErrorSendFailed          ErrorCode = "SEND_FAILED"
	ErrorInvalidRecipient    ErrorCode = "INVALID_RECIPIENT"
	ErrorInternal            ErrorCode = "INTERNAL"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("conversation: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("conversation: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a classified error. Collaborators such as the recommender
// use it so the controller can pick the matching reply text.
func NewError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorInternal when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorInternal
}

// recipientRejecter is implemented by transport errors that can tell a bad
// destination apart from other send failures.
type recipientRejecter interface {
	InvalidRecipient() bool
}

func classifySendError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var rr recipientRejecter
	if errors.As(err, &rr) && rr.InvalidRecipient() {
		return NewError(ErrorInvalidRecipient, "transport_invalid_recipient", err)
	}
	return NewError(ErrorSendFailed, "transport_send_error", err)
}
