package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrInvalidChoice  = errors.New("invalid choice")
	ErrNilCommand     = errors.New("nil command")
)

// DecodeError describes why a raw frame could not be split into an envelope.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: malformed frame at offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrMalformedFrame }

// PayloadError is returned when the data object of a known message type does
// not match that type's shape.
type PayloadError struct {
	Type string
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("protocol: invalid %s payload: %v", e.Type, e.Err)
}

func (e *PayloadError) Unwrap() []error { return []error{ErrInvalidPayload, e.Err} }
