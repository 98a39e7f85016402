package channels

import "fmt"

// ErrChannelNotFound is returned when an operation targets a channel that is
// not open in the dispatcher.
type ErrChannelNotFound struct {
	Channel string
}

func (e *ErrChannelNotFound) Error() string {
	return fmt.Sprintf("channels: channel not found: %s", e.Channel)
}

// ErrNoPlatformFactory is returned by Open when no ChannelFactory is
// registered for the platform.
type ErrNoPlatformFactory struct {
	Channel  string
	Platform string
}

func (e *ErrNoPlatformFactory) Error() string {
	return fmt.Sprintf("channels: no factory for platform %q (channel %s)", e.Platform, e.Channel)
}

// ErrUnsupported is returned when a channel lacks an optional capability.
type ErrUnsupported struct {
	Channel  string
	Platform string
	Op       string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("channels: %s not supported by %s (%s)", e.Op, e.Channel, e.Platform)
}

// ErrSendFailed is returned when a message could not be delivered to the
// platform.
type ErrSendFailed struct {
	Channel  string
	Platform string
	Cause    error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("channels: send failed on %s (%s): %v", e.Channel, e.Platform, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }
