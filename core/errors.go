package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below matches exactly one of these via
// errors.Is.
var (
	// ErrTransport is a fetch or connection failure. Recovered by the next
	// poll tick or a reconnect.
	ErrTransport = errors.New("transport failure")

	// ErrMalformedPayload is an unparseable or invalid snapshot, item or event.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrStaleUpdate is an update that tried to move a monotonic field backward.
	ErrStaleUpdate = errors.New("stale update")

	// ErrUnknownEntity is a command or event targeting an id the store does not hold.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrMutationRejected is a backend refusal of a user command.
	ErrMutationRejected = errors.New("mutation rejected")

	// ErrStoreClosed is returned for updates submitted after teardown.
	ErrStoreClosed = errors.New("store closed")
)

// Reporter is the error channel. Implementations must not block.
type Reporter interface {
	Report(err error)
}

// TransportError wraps a network failure or a non-2xx response.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// MalformedPayloadError describes a payload that was dropped.
type MalformedPayloadError struct {
	Source string // e.g. "snapshot:threats", "stream"
	Index  int    // item position within a snapshot, -1 for the whole payload
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("malformed %s item %d: %v", e.Source, e.Index, e.Err)
	}
	return fmt.Sprintf("malformed %s payload: %v", e.Source, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

func (e *MalformedPayloadError) Is(target error) bool { return target == ErrMalformedPayload }

// StaleUpdateError records a rejected regression of a monotonic field.
type StaleUpdateError struct {
	Kind     EntityKind
	ID       ID
	Field    string
	Current  string
	Incoming string
}

func (e *StaleUpdateError) Error() string {
	return fmt.Sprintf("stale %s %s update: %s %s -> %s rejected", e.Kind, e.ID, e.Field, e.Current, e.Incoming)
}

func (e *StaleUpdateError) Is(target error) bool { return target == ErrStaleUpdate }

// UnknownEntityError is returned when an id is not in the store.
type UnknownEntityError struct {
	Kind EntityKind
	ID   ID
	Op   string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("%s: unknown %s %q", e.Op, e.Kind, e.ID)
}

func (e *UnknownEntityError) Is(target error) bool { return target == ErrUnknownEntity }

// MutationRejectedError is a failed user command.
type MutationRejectedError struct {
	Command    string
	ID         ID
	RolledBack bool
	Err        error
}

func (e *MutationRejectedError) Error() string {
	suffix := ""
	if e.RolledBack {
		suffix = " (optimistic change rolled back)"
	}
	return fmt.Sprintf("%s %s rejected: %v%s", e.Command, e.ID, e.Err, suffix)
}

func (e *MutationRejectedError) Unwrap() error { return e.Err }

func (e *MutationRejectedError) Is(target error) bool { return target == ErrMutationRejected }

// ErrorKind classifies err for logs and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrMutationRejected):
		// checked first: a rejected mutation usually wraps a transport error
		return "mutation_rejected"
	case errors.Is(err, ErrStaleUpdate):
		return "stale_update"
	case errors.Is(err, ErrUnknownEntity):
		return "unknown_entity"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrStoreClosed):
		return "store_closed"
	default:
		return "other"
	}
}
