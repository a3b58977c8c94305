package signer

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the failure category of a SignError. Every failure the signer
// produces is fatal to the session: there is no local recovery once a
// SignError has been raised.
type Kind int

const (
	// KindDataError marks malformed or internally inconsistent data sent
	// by the host — wrong reply kind, wrong index, an unparsable field.
	KindDataError Kind = iota
	// KindProcessError marks a violated internal invariant: the tx changed
	// between phase 1 and phase 2, a prev-tx hash didn't match, an unknown
	// script type turned up during phase 2 serialization.
	KindProcessError
	// KindNotEnoughFunds marks inputs that don't cover outputs plus fee.
	KindNotEnoughFunds
	// KindActionCancelled marks a user decline, including cancellable
	// policy triggers like fee-over-threshold or non-zero locktime.
	KindActionCancelled
	// KindFirmwareError marks a precondition reachable only through a bug.
	KindFirmwareError
)

func (k Kind) String() string {
	switch k {
	case KindDataError:
		return "DataError"
	case KindProcessError:
		return "ProcessError"
	case KindNotEnoughFunds:
		return "NotEnoughFunds"
	case KindActionCancelled:
		return "ActionCancelled"
	case KindFirmwareError:
		return "FirmwareError"
	default:
		return "UnknownError"
	}
}

// SignError is the concrete error type the signer returns. It carries a
// Kind for callers that branch on failure category and a short ASCII
// message.
type SignError struct {
	Kind    Kind
	Message string
}

func (e *SignError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// newError constructs a *SignError.
func newError(kind Kind, format string, args ...interface{}) *SignError {
	return &SignError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a *SignError of the given kind, unwrapping
// any wrapping added on the way up.
func IsKind(err error, kind Kind) bool {
	se, ok := errors.Cause(err).(*SignError)
	if !ok {
		return false
	}
	return se.Kind == kind
}
