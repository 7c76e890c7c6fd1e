package winlog

import (
	"strings"
	"unicode/utf8"
)

// Direction selects the traversal order of a channel by EventRecordID.
type Direction string

const (
	// Forward reads oldest first (ascending EventRecordID)
	Forward Direction = "forward"
	// Reverse reads newest first (descending EventRecordID), the usual choice for tailing
	Reverse Direction = "reverse"
)

// ParseDirection parses a user supplied direction. The empty string means Reverse.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Reverse), "backward", "desc":
		return Reverse, nil
	case string(Forward), "asc":
		return Forward, nil
	default:
		return "", &ConfigError{Field: "direction", Value: s, Err: ErrInvalidDirection}
	}
}

// ReadOptions configures one read session.
type ReadOptions struct {
	// Direction defaults to Reverse when empty
	Direction Direction

	// Query is an opaque filter expression handed to the native reader uninterpreted
	Query string
}

// Validate checks the options and returns a ConfigError if they are malformed.
func (o ReadOptions) Validate() error {
	switch o.Direction {
	case "", Forward, Reverse:
	default:
		return &ConfigError{Field: "direction", Value: string(o.Direction), Err: ErrInvalidDirection}
	}

	if !utf8.ValidString(o.Query) {
		return &ConfigError{Field: "query", Err: ErrInvalidQuery}
	}
	if strings.IndexByte(o.Query, 0) >= 0 {
		return &ConfigError{Field: "query", Err: ErrInvalidQuery}
	}
	return nil
}

// IsReverse reports whether the options select newest-first traversal.
func (o ReadOptions) IsReverse() bool {
	return o.Direction != Forward
}

// WithDefaults returns a copy with Direction filled in.
func (o ReadOptions) WithDefaults() ReadOptions {
	if o.Direction == "" {
		o.Direction = Reverse
	}
	return o
}
