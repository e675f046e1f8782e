package reminder

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAmbiguousTarget is returned when a cancel/silence target matches
	// more than one reminder.
	ErrAmbiguousTarget = errors.New("target matches more than one reminder")
	// ErrAlreadyTerminal is returned when cancelling a completed or cancelled reminder.
	ErrAlreadyTerminal = errors.New("reminder already completed or cancelled")
	ErrNoMatch         = errors.New("no matching reminder")
	ErrDuplicate       = errors.New("a reminder with this text already exists in this room")
)

type ParseReason string

const (
	ReasonEmpty       ParseReason = "empty"
	ReasonAmbiguous   ParseReason = "ambiguous"
	ReasonUnsupported ParseReason = "unsupported"
	ReasonPast        ParseReason = "past"
)

// ParseError reports why a time expression was rejected. Hint is shown to
// the user verbatim.
type ParseError struct {
	Reason ParseReason
	Input  string
	Hint   string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	switch e.Reason {
	case ReasonEmpty:
		b.WriteString("no time given")
	case ReasonAmbiguous:
		fmt.Fprintf(&b, "ambiguous time %q", e.Input)
	case ReasonPast:
		fmt.Fprintf(&b, "time %q is in the past", e.Input)
	default:
		fmt.Fprintf(&b, "unsupported time expression %q", e.Input)
	}
	if e.Hint != "" {
		b.WriteString(": ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// IsParseReason reports whether err is a ParseError with the given reason.
func IsParseReason(err error, reason ParseReason) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Reason == reason
}

// StoreError wraps a persistence failure that survived retries.
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// SendFailure wraps a delivery failure reported by the messenger.
type SendFailure struct {
	Room     string
	Attempts int
	Err      error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send to %s failed after %d attempt(s): %v", e.Room, e.Attempts, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }
