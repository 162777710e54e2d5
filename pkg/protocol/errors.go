package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a frame that could not be accepted.
type ErrorKind int

const (
	// KindProtocol marks malformed frames and unknown message types.
	KindProtocol ErrorKind = iota
	// KindValidation marks frames with a missing or invalid field.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is returned by the parser. Message is safe to send to the producer.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func protocolError(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...), Err: err}
}

func validationError(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrorClass returns the metrics label for err: "protocol", "validation"
// or "internal" for errors the parser did not produce.
func ErrorClass(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind.String()
	}
	return "internal"
}

// ErrorMessage returns the producer-facing message of err.
func ErrorMessage(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Message
	}
	return genericMessage
}
