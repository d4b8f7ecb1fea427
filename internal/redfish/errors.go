package redfish

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure. Downstream error accounting and the
// retry policy both branch on it, so network problems, rejected
// credentials, and malformed responses must stay distinguishable.
type Kind int

const (
	// KindNetwork covers connect failures, timeouts, and other transport
	// errors. These are the only failures worth retrying.
	KindNetwork Kind = iota

	// KindAuth means the host rejected our credentials. Retrying with the
	// same credentials cannot help.
	KindAuth

	// KindProtocol means the host answered, but not in a shape we
	// understand: unexpected HTTP status, undecodable JSON, or a Redfish
	// tree missing required resources.
	KindProtocol

	// KindUnavailable means no request was attempted because the host's
	// breaker is open.
	KindUnavailable
)

// String returns the label used on the redfish_errors_total metric.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindProtocol:
		return "protocol"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by [Client.Fetch].
//
// It carries the failure [Kind] alongside the host it occurred on and,
// where available, the underlying cause for error wrapping.
type Error struct {
	Kind Kind
	Host string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Host, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Host, e.Msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the operation could plausibly
// succeed. Only network failures qualify.
func (e *Error) Transient() bool {
	return e.Kind == KindNetwork
}

// newError builds an *Error with an underlying cause.
func newError(kind Kind, host, msg string, err error) *Error {
	return &Error{Kind: kind, Host: host, Msg: msg, Err: err}
}

// errorf builds an *Error without an underlying cause.
func errorf(kind Kind, host, format string, args ...any) *Error {
	return &Error{Kind: kind, Host: host, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure Kind from err. Errors that are not a
// redfish [Error] are treated as network failures, the conservative
// default for anything produced by the transport layer.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindNetwork
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Transient()
	}
	// unclassified errors come from the transport, assume transient
	return true
}
