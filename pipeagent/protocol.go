package pipeagent

import (
	"encoding/json"
	"strings"

	"chatgateway/event"
)

type sessionUpdateParams struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

type permissionOption struct {
	OptionID string `json:"optionId"`
}

type permissionRequestParams struct {
	SessionID string             `json:"sessionId"`
	Options   []permissionOption `json:"options"`
}

func optionIDs(opts []permissionOption) []string {
	ids := make([]string, len(opts))
	for i, o := range opts {
		ids[i] = o.OptionID
	}
	return ids
}

// permissionOptionID picks the first option whose id contains
// "allow_always", else the first option at all, else empty.
func permissionOptionID(opts []permissionOption) string {
	for _, o := range opts {
		if strings.Contains(o.OptionID, "allow_always") {
			return o.OptionID
		}
	}
	if len(opts) > 0 {
		return opts[0].OptionID
	}
	return ""
}

// sessionUpdateAction is the normalized shape of one session/update
// notification.
type sessionUpdateAction struct {
	kind string // "message_update", "tool_start", "tool_update", "ignore"

	thinking string
	text     string
	isDelta  bool
	id       string

	toolID     string
	toolName   string
	toolOutput string
}

func (a sessionUpdateAction) toEvent() event.Event {
	switch a.kind {
	case "message_update":
		if a.thinking != "" {
			return event.ThinkingDelta{ID: a.id, Text: a.thinking, IsDelta: a.isDelta}
		}
		return event.MessageDelta{ID: a.id, Text: a.text, IsDelta: a.isDelta}
	case "tool_start":
		return event.ToolStart{ID: a.toolID, Name: a.toolName}
	case "tool_update":
		return event.ToolUpdate{ID: a.toolID, Output: a.toolOutput}
	default:
		return nil
	}
}

type rawUpdate struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Content       json.RawMessage `json:"content"`
	Text          string          `json:"text"`
	ToolCallID    string          `json:"toolCallId"`
	Status        string          `json:"status"`
	Title         string          `json:"title"`
	RawOutput     json.RawMessage `json:"rawOutput"`
}

// parseSessionUpdate normalizes one session/update payload into the shape
// the rest of this package dispatches on.
func parseSessionUpdate(raw json.RawMessage) sessionUpdateAction {
	var u rawUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return sessionUpdateAction{kind: "ignore"}
	}

	switch u.SessionUpdate {
	case "agent_thought_chunk":
		return sessionUpdateAction{kind: "message_update", thinking: updateText(u.Content), isDelta: true}
	case "agent_message_chunk":
		text := u.Text
		if text == "" {
			text = updateText(u.Content)
		}
		return sessionUpdateAction{kind: "message_update", text: text, isDelta: true}
	case "tool_call":
		if u.Status == "running" || u.Status == "" {
			title := u.Title
			if title == "" {
				title = "🛠️ **Tool:**"
			}
			return sessionUpdateAction{kind: "tool_start", toolID: u.ToolCallID, toolName: title}
		}
		return sessionUpdateAction{kind: "ignore"}
	case "tool_call_update":
		output := valueText(u.RawOutput)
		if output == "" {
			output = u.Status
		}
		if output == "" {
			return sessionUpdateAction{kind: "ignore"}
		}
		return sessionUpdateAction{kind: "tool_update", toolID: u.ToolCallID, toolOutput: output}
	default:
		return sessionUpdateAction{kind: "ignore"}
	}
}

// updateText extracts the "text" field from a {"content": {"text": ...}}
// shaped payload.
func updateText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var withText struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &withText); err == nil && withText.Text != "" {
		return withText.Text
	}
	return ""
}

// valueText stringifies an arbitrary JSON value, passing bare strings
// through unquoted.
func valueText(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

// sessionBootstrap is the parsed result of a session/new or session/load
// call: the assigned session id plus any model metadata the backend
// returned inline.
type sessionBootstrap struct {
	SessionID    string
	Models       []modelInfo
	CurrentModel string
}

type modelInfo struct {
	ModelID string `json:"modelId"`
	Name    string `json:"name"`
}

type bootstrapResult struct {
	SessionID string `json:"sessionId"`
	Models    struct {
		AvailableModels []modelInfo `json:"availableModels"`
		CurrentModelID  string      `json:"currentModelId"`
	} `json:"models"`
}

// parseSessionBootstrap parses the result of session/new. Returns an error
// if sessionId is missing.
func parseSessionBootstrap(raw json.RawMessage) (sessionBootstrap, error) {
	var r bootstrapResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return sessionBootstrap{}, err
	}
	if r.SessionID == "" {
		return sessionBootstrap{}, errMissingSessionID
	}
	return sessionBootstrap{
		SessionID:    r.SessionID,
		Models:       r.Models.AvailableModels,
		CurrentModel: r.Models.CurrentModelID,
	}, nil
}

var errMissingSessionID = &bootstrapError{"missing sessionId in session bootstrap response"}

type bootstrapError struct{ msg string }

func (e *bootstrapError) Error() string { return e.msg }
