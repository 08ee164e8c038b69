// Package agent defines the contract every backend adapter implements: a
// uniform command surface (prompt, compact, abort, clear, model/thinking
// selection, skill loading) plus a canonical event subscription, grounded in
// the original AiAgent trait (agent/mod.rs).
package agent

import (
	"context"

	"chatgateway/event"
)

// State is a snapshot of one session's progress.
type State struct {
	MessageCount uint64
	Model        string // empty when no model has been selected yet
}

// ModelInfo describes one model a backend can be switched to.
type ModelInfo struct {
	Provider string
	ID       string
	Label    string
}

// Type identifies which backend variant a channel is bound to. Two
// variants (TypePipePrimary, TypePipeSecondary) share the pipe-RPC multiplexer
// described in SPEC_FULL.md §4; TypeStream and TypeLocal each have their
// own transport.
type Type string

const (
	TypePipePrimary   Type = "pipe-primary"
	TypePipeSecondary Type = "pipe-secondary"
	TypeStream        Type = "stream"
	TypeLocal         Type = "local"
)

// DefaultType is used for a channel that has never selected a backend.
const DefaultType = TypePipePrimary

// Valid reports whether t is a recognized backend variant.
func (t Type) Valid() bool {
	switch t {
	case TypePipePrimary, TypePipeSecondary, TypeStream, TypeLocal:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// Agent is the uniform surface every backend adapter exposes. Every method
// that reaches the backend process takes a context so the caller can bound
// or cancel it.
type Agent interface {
	// Prompt sends a user message and triggers a turn. Canonical events for
	// the turn arrive on the channel returned by Subscribe.
	Prompt(ctx context.Context, message string) error

	// SetSessionName renames the backend-side session, when the backend
	// supports it.
	SetSessionName(ctx context.Context, name string) error

	// GetState returns the adapter's current view of session progress.
	GetState(ctx context.Context) (State, error)

	// Compact asks the backend to summarize/condense its context.
	Compact(ctx context.Context) error

	// Abort cancels the in-flight turn, if any.
	Abort(ctx context.Context) error

	// Clear resets the session, dropping history.
	Clear(ctx context.Context) error

	// SetModel switches the active model.
	SetModel(ctx context.Context, provider, modelID string) error

	// SetThinkingLevel adjusts reasoning effort, when the backend supports
	// the concept; returns a *gwerrors.Capability error otherwise.
	SetThinkingLevel(ctx context.Context, level string) error

	// GetAvailableModels lists models the backend can be switched to.
	GetAvailableModels(ctx context.Context) ([]ModelInfo, error)

	// LoadSkill asks the backend to load a named skill/extension, when
	// supported.
	LoadSkill(ctx context.Context, name string) error

	// Subscribe returns the canonical event stream for this agent along
	// with an unsubscribe function.
	Subscribe() (<-chan event.Event, func())

	// Type identifies which backend variant this adapter talks to.
	Type() Type
}

// NoOp is a zero-behavior Agent used for commands that don't need a live
// backend (e.g. listing available backend variants before one is chosen).
type NoOp struct{}

func (NoOp) Prompt(context.Context, string) error { return nil }
func (NoOp) SetSessionName(context.Context, string) error { return nil }
func (NoOp) GetState(context.Context) (State, error) { return State{}, nil }
func (NoOp) Compact(context.Context) error { return nil }
func (NoOp) Abort(context.Context) error { return nil }
func (NoOp) Clear(context.Context) error { return nil }
func (NoOp) SetModel(context.Context, string, string) error { return nil }
func (NoOp) SetThinkingLevel(context.Context, string) error { return nil }
func (NoOp) GetAvailableModels(context.Context) ([]ModelInfo, error) { return nil, nil }
func (NoOp) LoadSkill(context.Context, string) error { return nil }
func (NoOp) Subscribe() (<-chan event.Event, func()) {
	ch := make(chan event.Event)
	return ch, func() {}
}
func (NoOp) Type() Type { return "" }

var _ Agent = NoOp{}
