package wifitypes

import (
	"errors"
	"fmt"
)

// An ErrorKind classifies a failure of the control plane. Values are carried
// on the wire in failure notifications and must not be renumbered.
type ErrorKind int

// Possible ErrorKind values.
const (
	KindMalformedAttribute ErrorKind = 1
	KindNestingTooDeep     ErrorKind = 2
	KindMissingAttribute   ErrorKind = 3
	KindUnsupportedCommand ErrorKind = 4
	KindUnknownAttribute   ErrorKind = 5
	KindScanInProgress     ErrorKind = 6
	KindScanListTooLarge   ErrorKind = 7
	KindScanTimeout        ErrorKind = 8
	KindInterfaceBusy      ErrorKind = 9
	KindAuthFailed         ErrorKind = 10
	KindAssociationFailed  ErrorKind = 11
	KindInterfaceNotFound  ErrorKind = 12
	KindWiphyNotFound      ErrorKind = 13
	KindScanAborted        ErrorKind = 14
	KindNotSupported       ErrorKind = 15
	KindExists             ErrorKind = 16
	KindNotFound           ErrorKind = 17
)

var kindNames = map[ErrorKind]string{
	KindMalformedAttribute: "malformed attribute",
	KindNestingTooDeep:     "attribute nesting too deep",
	KindMissingAttribute:   "missing attribute",
	KindUnsupportedCommand: "unsupported command",
	KindUnknownAttribute:   "unknown attribute",
	KindScanInProgress:     "scan in progress",
	KindScanListTooLarge:   "scan channel list too large",
	KindScanTimeout:        "scan timed out",
	KindInterfaceBusy:      "interface busy",
	KindAuthFailed:         "authentication failed",
	KindAssociationFailed:  "association failed",
	KindInterfaceNotFound:  "interface not found",
	KindWiphyNotFound:      "wiphy not found",
	KindScanAborted:        "scan aborted",
	KindNotSupported:       "not supported",
	KindExists:             "already exists",
	KindNotFound:           "not found",
}

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}

	return fmt.Sprintf("unknown(%d)", int(k))
}

// Transition reports whether k is the failure of a state machine transition,
// which is both replied to the requester and broadcast to subscribers.
func (k ErrorKind) Transition() bool {
	switch k {
	case KindAuthFailed, KindAssociationFailed, KindScanTimeout, KindScanAborted:
		return true
	}

	return false
}

// An Error is a failure with exactly one ErrorKind.
//
// Errors compare equal under errors.Is when their kinds match, so callers can
// test against the sentinel values below.
type Error struct {
	Kind ErrorKind

	// Command is the command identifier being processed, if known.
	Command uint8

	// Attr is the attribute concerned, for attribute errors.
	Attr uint16

	// Reason is the 802.11 reason or status code, for AuthFailed and
	// AssociationFailed.
	Reason uint16

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	s := e.Kind.String()
	switch e.Kind {
	case KindMissingAttribute, KindUnknownAttribute, KindMalformedAttribute:
		if e.Attr != 0 {
			s = fmt.Sprintf("%s: command %d, attribute %d", s, e.Command, e.Attr)
		}
	case KindUnsupportedCommand:
		s = fmt.Sprintf("%s: %d", s, e.Command)
	case KindAuthFailed, KindAssociationFailed:
		s = fmt.Sprintf("%s: reason %d", s, e.Reason)
	}

	if e.Err != nil {
		s += ": " + e.Err.Error()
	}

	return s
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel errors for use with errors.Is.
var (
	ErrMalformedAttribute = &Error{Kind: KindMalformedAttribute}
	ErrNestingTooDeep     = &Error{Kind: KindNestingTooDeep}
	ErrMissingAttribute   = &Error{Kind: KindMissingAttribute}
	ErrUnsupportedCommand = &Error{Kind: KindUnsupportedCommand}
	ErrUnknownAttribute   = &Error{Kind: KindUnknownAttribute}
	ErrScanInProgress     = &Error{Kind: KindScanInProgress}
	ErrScanListTooLarge   = &Error{Kind: KindScanListTooLarge}
	ErrScanTimeout        = &Error{Kind: KindScanTimeout}
	ErrInterfaceBusy      = &Error{Kind: KindInterfaceBusy}
	ErrAuthFailed         = &Error{Kind: KindAuthFailed}
	ErrAssociationFailed  = &Error{Kind: KindAssociationFailed}
	ErrInterfaceNotFound  = &Error{Kind: KindInterfaceNotFound}
	ErrWiphyNotFound      = &Error{Kind: KindWiphyNotFound}
	ErrScanAborted        = &Error{Kind: KindScanAborted}
	ErrNotSupported       = &Error{Kind: KindNotSupported}
	ErrExists             = &Error{Kind: KindExists}
	ErrNotFound           = &Error{Kind: KindNotFound}
)

// Errorf creates an *Error of kind k wrapping a formatted cause.
func Errorf(k ErrorKind, format string, v ...interface{}) *Error {
	return &Error{Kind: k, Err: fmt.Errorf(format, v...)}
}

// KindOf returns the kind of err, or zero if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if !errors.As(err, &e) {
		return 0
	}

	return e.Kind
}
