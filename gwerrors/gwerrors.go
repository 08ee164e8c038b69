// Package gwerrors defines the typed error taxonomy backend adapters return,
// so callers can dispatch on errors.As instead of string-matching. The one
// exception is the SSE adapter's recursive error-message extraction, which
// is inherently stringly-typed backend output and is documented there
// rather than modeled as a distinct type here.
package gwerrors

import "fmt"

// Transport indicates failure to reach or communicate with a backend
// process at all: connection refused, broken pipe, process exited.
type Transport struct {
	Backend string
	Err     error
}

func (e *Transport) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Backend, e.Err)
}

func (e *Transport) Unwrap() error { return e.Err }

// Protocol indicates a backend responded, but with a payload the adapter
// could not parse or that violated the expected wire contract.
type Protocol struct {
	Backend string
	Err     error
}

func (e *Protocol) Error() string {
	return fmt.Sprintf("%s: protocol error: %v", e.Backend, e.Err)
}

func (e *Protocol) Unwrap() error { return e.Err }

// BackendSemantic indicates the backend understood the request and
// rejected it on its own terms (e.g. unknown model, invalid session).
type BackendSemantic struct {
	Backend string
	Message string
}

func (e *BackendSemantic) Error() string {
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

// Timeout indicates a request exceeded its deadline waiting on a response.
type Timeout struct {
	Backend string
	Op      string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("%s: %s timed out", e.Backend, e.Op)
}

// Capability indicates the requested operation is not supported by this
// backend variant at all (e.g. thinking-level control on a backend that has
// no such concept).
type Capability struct {
	Backend string
	Op      string
}

func (e *Capability) Error() string {
	return fmt.Sprintf("%s backend does not support %s", e.Backend, e.Op)
}

// SuppressedCosmetic marks an error the adapter decided not to surface to
// the user because it is a known cosmetic quirk of the backend rather than
// a real failure. Callers that see this type should drop it silently.
type SuppressedCosmetic struct {
	Backend string
	Reason  string
}

func (e *SuppressedCosmetic) Error() string {
	return fmt.Sprintf("%s: suppressed cosmetic error (%s)", e.Backend, e.Reason)
}
