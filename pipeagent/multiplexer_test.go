package pipeagent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgateway/agent"
	"chatgateway/broadcast"
	"chatgateway/event"
)

func newTestMultiplexer() (*multiplexer, *broadcast.Broadcaster[event.Event]) {
	m := &multiplexer{
		variant:  agent.TypePipePrimary,
		sessions: make(map[string]*sessionBinding),
	}
	b := broadcast.New[event.Event](16)
	m.bindSession("sess-1", b)
	return m, b
}

func rawParams(t *testing.T, v any) *json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	raw := json.RawMessage(data)
	return &raw
}

func TestHandleSessionUpdateDispatchesToBoundSession(t *testing.T) {
	m, b := newTestMultiplexer()
	ch, unsub := b.Subscribe()
	defer unsub()

	params := rawParams(t, sessionUpdateParams{
		SessionID: "sess-1",
		Update:    json.RawMessage(`{"sessionUpdate":"agent_message_chunk","text":"hi"}`),
	})
	req := &jsonrpc2.Request{Method: "session/update", Params: params}

	_, err := m.handle(context.Background(), nil, req)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		md, ok := ev.(event.MessageDelta)
		require.True(t, ok)
		assert.Equal(t, "hi", md.Text)
	default:
		t.Fatal("expected an event on the bound session's channel")
	}
}

func TestHandleSessionUpdateUnknownSessionIsIgnored(t *testing.T) {
	m, _ := newTestMultiplexer()
	params := rawParams(t, sessionUpdateParams{SessionID: "no-such-session"})
	req := &jsonrpc2.Request{Method: "session/update", Params: params}

	result, err := m.handle(context.Background(), nil, req)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestHandleSessionUpdateMalformedParamsIsIgnored(t *testing.T) {
	m, _ := newTestMultiplexer()
	raw := json.RawMessage(`not json`)
	req := &jsonrpc2.Request{Method: "session/update", Params: &raw}

	result, err := m.handle(context.Background(), nil, req)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestHandleRequestPermissionAutoSelectsAndBroadcasts(t *testing.T) {
	m, b := newTestMultiplexer()
	ch, unsub := b.Subscribe()
	defer unsub()

	params := rawParams(t, permissionRequestParams{
		SessionID: "sess-1",
		Options: []permissionOption{
			{OptionID: "reject"},
			{OptionID: "allow_always_edit"},
		},
	})
	req := &jsonrpc2.Request{Method: "session/request_permission", Params: params}

	result, err := m.handle(context.Background(), nil, req)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"optionId": "allow_always_edit"}, result)

	select {
	case ev := <-ch:
		pr, ok := ev.(event.PermissionRequest)
		require.True(t, ok)
		assert.Equal(t, "allow_always_edit", pr.Chosen)
	default:
		t.Fatal("expected a PermissionRequest event")
	}
}

func TestHandleRequestPermissionNoOptionsErrors(t *testing.T) {
	m, _ := newTestMultiplexer()
	params := rawParams(t, permissionRequestParams{SessionID: "sess-1"})
	req := &jsonrpc2.Request{Method: "session/request_permission", Params: params}

	_, err := m.handle(context.Background(), nil, req)
	assert.Error(t, err)
}

func TestHandleUnknownMethodIsIgnored(t *testing.T) {
	m, _ := newTestMultiplexer()
	req := &jsonrpc2.Request{Method: "some/other"}

	result, err := m.handle(context.Background(), nil, req)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestBindAndUnbindSession(t *testing.T) {
	m, _ := newTestMultiplexer()
	assert.Contains(t, m.sessions, "sess-1")

	m.unbindSession("sess-1")
	assert.NotContains(t, m.sessions, "sess-1")
}
