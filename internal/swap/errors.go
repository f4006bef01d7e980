package swap

import "fmt"

// ErrUnknownEvent is returned when topic0 is not a supported swap signature.
type ErrUnknownEvent struct {
	Topic string
}

func (e ErrUnknownEvent) Error() string {
	return fmt.Sprintf("unknown event topic: %s", e.Topic)
}

// ErrInvalidEvent is returned for logs that cannot describe a swap.
type ErrInvalidEvent struct {
	Reason string
}

func (e ErrInvalidEvent) Error() string {
	return fmt.Sprintf("invalid event: %s", e.Reason)
}

// ErrEventParsing wraps an ABI decoding failure.
type ErrEventParsing struct {
	Event string
	Err   error
}

func (e ErrEventParsing) Error() string {
	return fmt.Sprintf("failed to parse %s event: %v", e.Event, e.Err)
}

func (e ErrEventParsing) Unwrap() error {
	return e.Err
}
