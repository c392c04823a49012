package chat

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when a connection's outbound queue is full.
	ErrSlowConsumer   = errors.New("outbound queue full")
	ErrNotMember      = errors.New("connection is not a member of the room")
	ErrNotJoined      = errors.New("you must join a room first")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

// ValidationError reports an inbound payload that does not match its schema.
type ValidationError struct {
	Event  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Event, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s %s", e.Event, e.Field, e.Reason)
}

func errorCode(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return "invalid_payload"
	case errors.Is(err, ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	default:
		return "internal"
	}
}
