package winlog

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChannel is returned when a channel name is not in the channel table
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrInvalidDirection is returned when a read direction is neither forward nor reverse
	ErrInvalidDirection = errors.New("invalid read direction")
	// ErrInvalidQuery is returned when a query cannot be passed to the native reader as a string
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidChannelTable is returned when a custom channel definition is malformed
	ErrInvalidChannelTable = errors.New("invalid channel table")
	// ErrSessionClosed is returned by Next once the consumer has closed the stream
	ErrSessionClosed = errors.New("session closed")
)

// ConfigError reports an invalid channel name or malformed read option.
// It is always returned before any native read session is started.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config error: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error: %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NativeError reports a failure delivered by the native reader while a session was reading.
// The wrapped error is the reader's error, unmodified.
type NativeError struct {
	Channel string
	Err     error
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("native reader error on channel %q: %v", e.Channel, e.Err)
}

func (e *NativeError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err (or its chain) is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsNativeError reports whether err (or its chain) is a NativeError.
func IsNativeError(err error) bool {
	var ne *NativeError
	return errors.As(err, &ne)
}
