package localrpcagent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgateway/broadcast"
	"chatgateway/event"
)

func newTestAdapter() *Adapter {
	return &Adapter{
		events: broadcast.New[event.Event](10),
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

func TestParseEventMessageUpdateDelta(t *testing.T) {
	a := newTestAdapter()
	sub, unsub := a.events.Subscribe()
	defer unsub()

	a.parseEvent(map[string]any{
		"type": "message_update",
		"assistantMessageEvent": map[string]any{
			"type":  "text_delta",
			"delta": "hello",
		},
	})

	ev := recv(t, sub)
	md, ok := ev.(event.MessageDelta)
	require.True(t, ok)
	assert.Equal(t, "hello", md.Text)
	assert.True(t, md.IsDelta)
}

func TestParseEventMessageUpdatePartial(t *testing.T) {
	a := newTestAdapter()
	sub, unsub := a.events.Subscribe()
	defer unsub()

	a.parseEvent(map[string]any{
		"type": "message_update",
		"assistantMessageEvent": map[string]any{
			"type": "text_end",
			"partial": map[string]any{
				"content": []any{
					map[string]any{"type": "thinking", "thinking": "reasoning"},
					map[string]any{"type": "text", "text": "final answer"},
				},
			},
		},
	})

	ev := recv(t, sub)
	td, ok := ev.(event.ThinkingDelta)
	require.True(t, ok)
	assert.Equal(t, "reasoning", td.Text)
	assert.False(t, td.IsDelta)

	ev = recv(t, sub)
	md, ok := ev.(event.MessageDelta)
	require.True(t, ok)
	assert.Equal(t, "final answer", md.Text)
	assert.False(t, md.IsDelta)
}

func TestParseEventRootDelta(t *testing.T) {
	a := newTestAdapter()
	sub, unsub := a.events.Subscribe()
	defer unsub()

	a.parseEvent(map[string]any{"type": "text_delta", "delta": "world"})

	ev := recv(t, sub)
	md, ok := ev.(event.MessageDelta)
	require.True(t, ok)
	assert.Equal(t, "world", md.Text)
	assert.True(t, md.IsDelta)
}

func TestParseEventTurnEndIgnoredBeforeAgentEnd(t *testing.T) {
	a := newTestAdapter()
	sub, unsub := a.events.Subscribe()
	defer unsub()

	a.parseEvent(map[string]any{
		"type":  "tool_execution_start",
		"toolName": "bash",
	})
	ev := recv(t, sub)
	_, ok := ev.(event.ToolStart)
	require.True(t, ok)

	a.parseEvent(map[string]any{"type": "turn_end"})
	_, got := tryRecv(sub)
	assert.False(t, got, "turn_end must not surface as a canonical event")

	a.parseEvent(map[string]any{"type": "agent_end"})
	ev = recv(t, sub)
	te, ok := ev.(event.TurnEnd)
	require.True(t, ok)
	assert.True(t, te.Success)
}

func TestParseEventToolExecutionUpdateFull(t *testing.T) {
	a := newTestAdapter()
	sub, unsub := a.events.Subscribe()
	defer unsub()

	longOutput := ""
	for i := 0; i < 100; i++ {
		longOutput += "line1\n"
	}

	a.parseEvent(map[string]any{
		"type": "tool_execution_update",
		"partialResult": map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": longOutput},
			},
		},
	})

	ev := recv(t, sub)
	tu, ok := ev.(event.ToolUpdate)
	require.True(t, ok)
	assert.Equal(t, longOutput, tu.Output, "truncation is the composer's job, not the adapter's")
}

func TestParseEventAgentEndWithError(t *testing.T) {
	a := newTestAdapter()
	sub, unsub := a.events.Subscribe()
	defer unsub()

	a.parseEvent(map[string]any{"type": "agent_end", "errorMessage": "boom"})

	ev := recv(t, sub)
	te, ok := ev.(event.TurnEnd)
	require.True(t, ok)
	assert.False(t, te.Success)
	assert.Equal(t, "boom", te.Error)
}

func TestParseEventCommandResponseBroadcastsToSubscribers(t *testing.T) {
	a := newTestAdapter()
	sub, unsub := a.events.Subscribe()
	defer unsub()

	a.parseEvent(map[string]any{
		"type": "response",
		"id":   "cmd-1",
		"data": map[string]any{"models": []any{}},
	})

	ev := recv(t, sub)
	cr, ok := ev.(event.CommandResponse)
	require.True(t, ok)
	assert.Equal(t, "cmd-1", cr.CorrelationID)
	assert.NotNil(t, cr.Payload)
}

func TestParseEventTopLevelError(t *testing.T) {
	a := newTestAdapter()
	sub, unsub := a.events.Subscribe()
	defer unsub()

	a.parseEvent(map[string]any{"type": "error", "message": "top level failure"})

	ev := recv(t, sub)
	errEv, ok := ev.(event.Error)
	require.True(t, ok)
	assert.Equal(t, "top level failure", errEv.Message)
}
