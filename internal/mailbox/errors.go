package mailbox

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no code arrives before the deadline
	ErrTimeout = errors.New("timed out waiting for verification code")

	// ErrNotConnected is returned by WaitForCode before Connect succeeded
	// or after the session failed
	ErrNotConnected = errors.New("mailbox not connected")

	// ErrInvalidTimeout is returned for non-positive wait timeouts
	ErrInvalidTimeout = errors.New("timeout must be positive")
)

// ConnectionError is returned when Connect cannot establish an
// authenticated session
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connect: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SessionError is returned when an established session fails while polling
type SessionError struct {
	Source string
	Stage  string // search, fetch or store
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
