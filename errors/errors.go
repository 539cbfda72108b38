// Package errors defines the error taxonomy shared by the storage facade,
// the backing stores and the HTTP layer.
//
// Every error that leaves a store or the facade is an *Error carrying a Kind.
// The Kind decides the HTTP status (client error vs server error) and whether
// the Message is safe to show to callers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for handling purposes.
type Kind int

const (
	// KindBackend is any backend failure that has no more specific kind.
	KindBackend Kind = iota
	// KindMissingKeyComponent means the prefix or suffix is empty.
	KindMissingKeyComponent
	// KindInvalidKeyComponent means the prefix or suffix contains the separator.
	KindInvalidKeyComponent
	// KindDuplicateKey means a create hit an existing key.
	KindDuplicateKey
	// KindNotFound means a mutation targeted an absent key.
	KindNotFound
	// KindBackendUnavailable means there is no live backend connection yet.
	KindBackendUnavailable
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindMissingKeyComponent:
		return "missing_key_component"
	case KindInvalidKeyComponent:
		return "invalid_key_component"
	case KindDuplicateKey:
		return "duplicate_key"
	case KindNotFound:
		return "not_found"
	case KindBackendUnavailable:
		return "backend_unavailable"
	default:
		return "backend_error"
	}
}

// ClientError reports whether the kind is caused by the caller's input.
func (k Kind) ClientError() bool {
	switch k {
	case KindMissingKeyComponent, KindInvalidKeyComponent, KindDuplicateKey, KindNotFound:
		return true
	}
	return false
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if k.ClientError() {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Messages returned to callers.
const (
	MsgDuplicateKey       = "The prefix and suffix provided are already in use, change them and try again."
	MsgNotFound           = "No document found!"
	MsgBackendUnavailable = "The database is not available yet, try again later."
	MsgBackend            = "An unexpected error occurred in our database."
)

// Sentinels for use with errors.Is. Matching is by Kind only.
var (
	ErrMissingKeyComponent = &Error{Kind: KindMissingKeyComponent}
	ErrInvalidKeyComponent = &Error{Kind: KindInvalidKeyComponent}
	ErrDuplicateKey        = &Error{Kind: KindDuplicateKey}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrBackendUnavailable  = &Error{Kind: KindBackendUnavailable}
	ErrBackend             = &Error{Kind: KindBackend}
)

// Error is a classified error. Message is always safe to return to callers;
// Err holds the underlying cause and is meant for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// MissingKeyComponent reports an empty prefix or suffix.
func MissingKeyComponent(component string) error {
	return &Error{
		Kind:    KindMissingKeyComponent,
		Message: fmt.Sprintf("%s required!", capitalize(component)),
	}
}

// InvalidKeyComponent reports a prefix or suffix holding the separator.
func InvalidKeyComponent(component, value, separator string) error {
	return &Error{
		Kind:    KindInvalidKeyComponent,
		Message: fmt.Sprintf("The %s %s cannot contain %s", component, value, separator),
	}
}

// DuplicateKey wraps a uniqueness violation raised by a store.
func DuplicateKey(err error) error {
	return &Error{Kind: KindDuplicateKey, Message: MsgDuplicateKey, Err: err}
}

// NotFound reports that no document matched the key.
func NotFound() error {
	return &Error{Kind: KindNotFound, Message: MsgNotFound}
}

// BackendUnavailable reports that the backend connection is not established.
func BackendUnavailable(err error) error {
	return &Error{Kind: KindBackendUnavailable, Message: MsgBackendUnavailable, Err: err}
}

// Backend wraps an unclassified store failure. The cause is never surfaced
// through Message.
func Backend(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindBackend, Message: MsgBackend, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are KindBackend.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

// Status returns the HTTP status code for err.
func Status(err error) int {
	return KindOf(err).Status()
}

// PublicMessage returns the message that may be shown to a caller.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return MsgBackend
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
