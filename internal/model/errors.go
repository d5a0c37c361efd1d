package model

import "fmt"

// TransportError is returned when the push channel is unavailable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s: not connected", e.Op)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SendError is scoped to a single outgoing message.
type SendError struct {
	LocalID string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.LocalID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// FetchError is returned when history or the notification list fails to load.
type FetchError struct {
	What string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.What, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError is raised locally before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
