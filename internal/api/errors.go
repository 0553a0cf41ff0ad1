package api

import (
	"errors"
	"fmt"
)

// Kind classifies request failures the way the UI needs to react to them:
// network problems invite a manual retry, auth failures end the session,
// validation failures are shown inline, server errors are transient, and
// decoding failures are bug signals.
type Kind int

const (
	KindNetwork Kind = iota
	KindAuth
	KindValidation
	KindNotFound
	KindServer
	KindDecoding
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not found"
	case KindServer:
		return "server"
	case KindDecoding:
		return "decoding"
	default:
		return "unknown"
	}
}

// Error is the single error type the client returns for failed requests.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the text suitable for an inline banner or toast.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return "Please check your internet connection and try again."
	case KindAuth:
		return "Your session has expired. Please log in again."
	case KindValidation:
		if e.Message != "" {
			return e.Message
		}
		return "Invalid request."
	case KindNotFound:
		return "The requested content could not be found."
	case KindServer:
		return "Our servers are experiencing issues. Please try again in a few minutes."
	default:
		return "Something went wrong. Please try again."
	}
}

func errorKind(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

// IsAuth reports whether err is an authentication/authorization failure.
func IsAuth(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindAuth
}

// IsNetwork reports whether err is a connectivity or timeout failure.
func IsNetwork(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindNetwork
}

// IsValidation reports whether err is a rejected-input failure.
func IsValidation(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindValidation
}

// Retryable reports whether retrying the same request later can help.
func Retryable(err error) bool {
	k, ok := errorKind(err)
	return ok && (k == KindNetwork || k == KindServer)
}
