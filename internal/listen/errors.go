package listen

import (
	"errors"
	"fmt"
)

// Kind classifies a streaming error
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindConfiguration  Kind = "configuration"
	KindHandshake      Kind = "handshake"
	KindSerialization  Kind = "serialization"
	KindIO             Kind = "io"
	KindConsumerClosed Kind = "consumer_closed"
)

var (
	// ErrInvalidEndpoint is returned when the base URL cannot be used to
	// build a streaming endpoint.
	ErrInvalidEndpoint = errors.New("base url must be an http, https, ws or wss url that can serve as a base")

	// ErrSourceClosed is returned by LiveSource.Push after the source ended.
	ErrSourceClosed = errors.New("frame source closed")

	// ErrConsumerClosed is returned when the caller closed the session
	// while a duty was still delivering.
	ErrConsumerClosed = errors.New("result consumer closed")
)

// Error wraps an underlying error with its Kind and the failing operation
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// StatusCode is the HTTP status of a rejected handshake, 0 otherwise
	StatusCode int
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("listen: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("listen: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrap attaches a kind to err. Already classified errors keep their kind.
func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HandshakeStatus returns the HTTP status the server rejected the upgrade
// with, or 0 when err is not a rejected handshake.
func HandshakeStatus(err error) int {
	var le *Error
	if errors.As(err, &le) && le.Kind == KindHandshake {
		return le.StatusCode
	}
	return 0
}
