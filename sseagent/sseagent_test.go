package sseagent

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgateway/agent"
	"chatgateway/broadcast"
	"chatgateway/event"
)

func newTestAdapter(sessionID string) *Adapter {
	return &Adapter{
		sessionID: sessionID,
		markers:   []string{"→", "🛠️"},
		events:    broadcast.New[event.Event](10),
	}
}

func recv(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func tryRecv(ch <-chan event.Event) (event.Event, bool) {
	select {
	case ev := <-ch:
		return ev, true
	default:
		return nil, false
	}
}

func TestErrorFatalVsBackground(t *testing.T) {
	a := newTestAdapter("ses_123")
	sub, unsub := a.events.Subscribe()
	defer unsub()

	fatal := map[string]any{
		"type":       "session.error",
		"properties": map[string]any{"sessionID": "ses_123", "message": "Unauthorized"},
	}
	a.handleBackendEvent(fatal)

	ev, ok := tryRecv(sub)
	require.True(t, ok, "fatal error must surface")
	te, ok := ev.(event.TurnEnd)
	require.True(t, ok)
	assert.False(t, te.Success)

	a.hasContent.Store(true)
	a.turnFailed.Store(false)

	bg := map[string]any{
		"type":       "session.error",
		"properties": map[string]any{"sessionID": "ses_123", "message": "Unauthorized"},
	}
	a.handleBackendEvent(bg)

	_, got := tryRecv(sub)
	assert.False(t, got, "background error must be suppressed once content has already streamed")
}

func TestErrorDeepRecursiveExtraction(t *testing.T) {
	nested := map[string]any{
		"error": map[string]any{
			"inner": map[string]any{"message": "Deep error"},
		},
	}
	msg, ok := findErrorMessage(nested)
	require.True(t, ok)
	assert.Equal(t, "Deep error", msg)
}

func TestProtocolReasoningStandard(t *testing.T) {
	a := newTestAdapter("ses_123")
	sub, unsub := a.events.Subscribe()
	defer unsub()

	ev := map[string]any{
		"type": "message.part.updated",
		"properties": map[string]any{
			"sessionID": "ses_123",
			"part":      map[string]any{"type": "reasoning"},
			"delta":     "Deeply thinking...",
		},
	}
	a.handleBackendEvent(ev)

	got := recv(t, sub)
	td, ok := got.(event.ThinkingDelta)
	require.True(t, ok)
	assert.Equal(t, "Deeply thinking...", td.Text)
	assert.True(t, td.IsDelta)
}

func TestConstructMessageBodyPreservesRawModelID(t *testing.T) {
	cases := []struct{ provider, model string }{
		{"z-ai", "glm-4.5:free"},
		{"google", "gemma-2.5-it"},
	}
	for _, c := range cases {
		body := constructMessageBody("Hi", c.provider, c.model)
		model := body["model"].(map[string]any)
		assert.Equal(t, c.provider, model["providerID"])
		assert.Equal(t, c.model, model["modelID"])
	}
}

func TestComplexToolStructure(t *testing.T) {
	a := newTestAdapter("test-ses")
	sub, unsub := a.events.Subscribe()
	defer unsub()

	toolStart := map[string]any{
		"type": "message.part.updated",
		"properties": map[string]any{
			"part": map[string]any{
				"type":   "tool",
				"tool":   "bash",
				"callID": "call-123",
				"state": map[string]any{
					"status": "running",
					"input":  map[string]any{"command": "ls -la"},
				},
			},
		},
	}
	a.handleBackendEvent(toolStart)

	ev := recv(t, sub)
	ts, ok := ev.(event.ToolStart)
	require.True(t, ok)
	assert.Equal(t, "call-123", ts.ID)
	assert.Contains(t, ts.Name, "bash")
	assert.Contains(t, ts.Name, "ls -la")

	toolEnd := map[string]any{
		"type": "message.part.updated",
		"properties": map[string]any{
			"part": map[string]any{
				"type":   "tool",
				"tool":   "bash",
				"callID": "call-123",
				"state": map[string]any{
					"status":   "completed",
					"metadata": map[string]any{"output": "file1\nfile2"},
				},
			},
		},
	}
	a.handleBackendEvent(toolEnd)

	ev = recv(t, sub)
	tu, ok := ev.(event.ToolUpdate)
	require.True(t, ok)
	assert.Equal(t, "call-123", tu.ID)
	assert.Equal(t, "file1\nfile2", tu.Output)
}

func TestUnauthorizedProviderExtraction(t *testing.T) {
	errJSON := map[string]any{
		"type": "error",
		"properties": map[string]any{
			"error": map[string]any{
				"data": map[string]any{
					"message":    "Unauthorized",
					"providerID": "z-ai",
				},
			},
		},
	}

	msg, ok := findErrorMessage(errJSON)
	require.True(t, ok)
	if msg == "Unauthorized" {
		properties := asMap(errJSON["properties"])
		if p := pathString(properties, "error", "data", "providerID"); p != "" {
			msg = "Unauthorized: provider " + p + " requires an API key"
		}
	}
	assert.Contains(t, msg, "z-ai")
}

func TestStableSortFreeFirst(t *testing.T) {
	models := []agent.ModelInfo{
		{ID: "a"}, {ID: "free-1"}, {ID: "b"}, {ID: "free-2"},
	}
	isFree := func(m agent.ModelInfo) bool { return strings.Contains(m.ID, "free") }
	stableSortFreeFirst(models, isFree)

	assert.Equal(t, []string{"free-1", "free-2", "a", "b"}, modelIDs(models))
}

func modelIDs(models []agent.ModelInfo) []string {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids
}
