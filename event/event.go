// Package event defines the canonical event model that every agent adapter
// normalizes backend-specific payloads into before handing them to the
// composer and writer.
package event

import "encoding/json"

// Type tags a canonical Event's concrete variant.
type Type string

const (
	TypeMessageDelta Type = "message_delta"
	TypeThinkingDelta Type = "thinking_delta"
	TypeToolStart     Type = "tool_start"
	TypeToolUpdate     Type = "tool_update"
	TypeToolEnd       Type = "tool_end"
	TypeContentSync   Type = "content_sync"
	TypeTurnEnd       Type = "turn_end"
	TypeError         Type = "error"
	TypePermissionRequest Type = "permission_request"
	TypeConnectionError Type = "connection_error"
	TypeAutoRetry       Type = "auto_retry"
	TypeCommandResponse Type = "command_response"
)

// Event is satisfied by every canonical event variant.
type Event interface {
	EventType() Type
}

// MessageDelta carries assistant reply text. When IsDelta is true, Text is
// appended to the block named by ID (or the trailing anonymous text block);
// when false, Text replaces the content of the block named by ID (defaulting
// to "text" when ID is empty) unless it is shorter than that content.
type MessageDelta struct {
	ID      string `json:"id,omitempty"`
	Text    string `json:"text"`
	IsDelta bool   `json:"is_delta"`
}

func (MessageDelta) EventType() Type { return TypeMessageDelta }

// ThinkingDelta carries assistant reasoning text, with the same
// delta/replace semantics as MessageDelta (defaulting to ID "think").
type ThinkingDelta struct {
	ID      string `json:"id,omitempty"`
	Text    string `json:"text"`
	IsDelta bool   `json:"is_delta"`
}

func (ThinkingDelta) EventType() Type { return TypeThinkingDelta }

// ToolStart announces a new tool call block identified by ID.
type ToolStart struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (ToolStart) EventType() Type { return TypeToolStart }

// ToolUpdate carries incremental or final output for an existing tool block.
type ToolUpdate struct {
	ID     string `json:"id"`
	Output string `json:"output"`
}

func (ToolUpdate) EventType() Type { return TypeToolUpdate }

// ToolEnd closes a tool call block.
type ToolEnd struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

func (ToolEnd) EventType() Type { return TypeToolEnd }

// ContentKind discriminates a ContentItem within a ContentSync snapshot.
type ContentKind string

const (
	ContentThinking  ContentKind = "thinking"
	ContentText      ContentKind = "text"
	ContentToolCall  ContentKind = "tool_call"
	ContentToolOutput ContentKind = "tool_output"
)

// ContentItem is one element of an authoritative ContentSync snapshot. Name
// is the tool label when Kind is ContentToolCall; ID identifies the block
// it maps to, when known.
type ContentItem struct {
	Kind    ContentKind `json:"kind"`
	Content string      `json:"content"`
	Name    string      `json:"name,omitempty"`
	ID      string      `json:"id,omitempty"`
}

// ContentSync carries an authoritative backend snapshot that the composer
// merges into its block set (keeping the longer content per block and any
// local identified blocks the snapshot lacks), used for late reconciliation
// at turn close.
type ContentSync struct {
	Items []ContentItem `json:"items"`
}

func (ContentSync) EventType() Type { return TypeContentSync }

// TurnEnd marks the end of one backend turn.
type TurnEnd struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (TurnEnd) EventType() Type { return TypeTurnEnd }

// Error is a backend-reported failure not tied to any specific block.
type Error struct {
	Message string `json:"message"`
}

func (Error) EventType() Type { return TypeError }

// PermissionRequest asks the gateway to approve or deny a backend action.
// Adapters auto-respond to these; it is surfaced as a canonical event only
// for observability.
type PermissionRequest struct {
	ID      string   `json:"id"`
	Options []string `json:"options"`
	Chosen  string   `json:"chosen"`
}

func (PermissionRequest) EventType() Type { return TypePermissionRequest }

// ConnectionError marks a transport-level failure reaching the backend
// process itself (closed pipe, exited child, dropped SSE stream) rather than
// a backend-reported error within an otherwise-live turn.
type ConnectionError struct {
	Message string `json:"message"`
}

func (ConnectionError) EventType() Type { return TypeConnectionError }

// AutoRetry reports that an adapter is retrying a request on the backend's
// behalf; informational only, it does not end the turn.
type AutoRetry struct {
	Attempt int `json:"attempt"`
	Max     int `json:"max"`
}

func (AutoRetry) EventType() Type { return TypeAutoRetry }

// CommandResponse carries a backend's reply to one out-of-band command
// (e.g. a model-list query), correlated back to its caller by
// CorrelationID rather than folded into the composer.
type CommandResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

func (CommandResponse) EventType() Type { return TypeCommandResponse }

// envelope is the wire shape used to tag a marshaled Event with its Type.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Marshal wraps an Event in its tagged envelope.
func Marshal(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: e.EventType(), Data: data})
}

// Unmarshal dispatches a tagged envelope back into its concrete Event type.
func Unmarshal(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeMessageDelta:
		var v MessageDelta
		return v, json.Unmarshal(env.Data, &v)
	case TypeThinkingDelta:
		var v ThinkingDelta
		return v, json.Unmarshal(env.Data, &v)
	case TypeToolStart:
		var v ToolStart
		return v, json.Unmarshal(env.Data, &v)
	case TypeToolUpdate:
		var v ToolUpdate
		return v, json.Unmarshal(env.Data, &v)
	case TypeToolEnd:
		var v ToolEnd
		return v, json.Unmarshal(env.Data, &v)
	case TypeContentSync:
		var v ContentSync
		return v, json.Unmarshal(env.Data, &v)
	case TypeTurnEnd:
		var v TurnEnd
		return v, json.Unmarshal(env.Data, &v)
	case TypeError:
		var v Error
		return v, json.Unmarshal(env.Data, &v)
	case TypePermissionRequest:
		var v PermissionRequest
		return v, json.Unmarshal(env.Data, &v)
	case TypeConnectionError:
		var v ConnectionError
		return v, json.Unmarshal(env.Data, &v)
	case TypeAutoRetry:
		var v AutoRetry
		return v, json.Unmarshal(env.Data, &v)
	case TypeCommandResponse:
		var v CommandResponse
		return v, json.Unmarshal(env.Data, &v)
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}
}

// UnknownTypeError is returned by Unmarshal for an unrecognized Type tag.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return "event: unknown type " + string(e.Type)
}
