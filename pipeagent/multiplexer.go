// Package pipeagent implements the shared pipe-RPC multiplexer and a
// single generic adapter used by both pipe-RPC backend variants: a
// JSON-RPC-2.0-over-stdio client shared by every session bound to the
// same resolved backend binary.
package pipeagent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"chatgateway/agent"
	"chatgateway/binpath"
	"chatgateway/broadcast"
	"chatgateway/event"
	"chatgateway/gatewayconfig"
	"chatgateway/gwerrors"
	"chatgateway/logger"

	"github.com/sourcegraph/jsonrpc2"
)

const requestTimeout = 300 * time.Second

// rwc combines a child process's stdout (reader) and stdin (writer) into a
// single io.ReadWriteCloser, as the jsonrpc2 stream requires.
type rwc struct {
	io.Reader
	io.WriteCloser
}

func (c rwc) Close() error { return c.WriteCloser.Close() }

// sessionBinding is how the multiplexer routes an inbound session/update or
// session/request_permission notification to the right adapter.
type sessionBinding struct {
	events *broadcast.Broadcaster[event.Event]
}

// multiplexer is one long-lived child process and its JSON-RPC-2.0
// connection, shared by every session created against the same resolved
// binary.
type multiplexer struct {
	variant agent.Type
	conn    *jsonrpc2.Conn
	cmd     *exec.Cmd

	mu       sync.RWMutex
	sessions map[string]*sessionBinding
}

var (
	muxMu   sync.Mutex
	muxByBin = map[string]*multiplexer{}
)

// getMultiplexer returns the singleton multiplexer for the backend binary
// named by binPath, spawning the child process on first use. Keyed by
// resolved binary path so the two pipe-RPC variants, which resolve to
// different binaries, never share a child process.
func getMultiplexer(variant agent.Type, backend gatewayconfig.BackendConfig) (*multiplexer, error) {
	binPath := binpath.ResolveWithEnv(backend.EnvOverride, backend.BinaryName)

	muxMu.Lock()
	defer muxMu.Unlock()

	if m, ok := muxByBin[binPath]; ok {
		return m, nil
	}

	cmd := exec.Command(binPath, backend.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &gwerrors.Transport{Backend: string(variant), Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &gwerrors.Transport{Backend: string(variant), Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &gwerrors.Transport{Backend: string(variant), Err: err}
	}

	m := &multiplexer{
		variant:  variant,
		cmd:      cmd,
		sessions: make(map[string]*sessionBinding),
	}

	stream := jsonrpc2.NewBufferedStream(rwc{Reader: stdout, WriteCloser: stdin}, jsonrpc2.VSCodeObjectCodec{})
	m.conn = jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(m.handle))

	muxByBin[binPath] = m
	return m, nil
}

// handle dispatches inbound notifications and requests from the backend:
// session/update notifications are translated to canonical events and
// broadcast to the owning session; session/request_permission requests are
// auto-answered per the permission auto-accept policy.
func (m *multiplexer) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	log := logger.Get()

	switch req.Method {
	case "session/update":
		var params sessionUpdateParams
		if req.Params != nil {
			if err := json.Unmarshal(*req.Params, &params); err != nil {
				log.Warn().Err(err).Msg("pipeagent: malformed session/update")
				return nil, nil
			}
		}

		m.mu.RLock()
		binding, ok := m.sessions[params.SessionID]
		m.mu.RUnlock()
		if !ok {
			return nil, nil
		}

		action := parseSessionUpdate(params.Update)
		if ev := action.toEvent(); ev != nil {
			binding.events.Send(ev)
		}
		return nil, nil

	case "session/request_permission":
		var params permissionRequestParams
		if req.Params != nil {
			if err := json.Unmarshal(*req.Params, &params); err != nil {
				return nil, err
			}
		}
		chosen := permissionOptionID(params.Options)

		m.mu.RLock()
		if binding, ok := m.sessions[params.SessionID]; ok {
			binding.events.Send(event.PermissionRequest{
				ID:      params.SessionID,
				Options: optionIDs(params.Options),
				Chosen:  chosen,
			})
		}
		m.mu.RUnlock()

		if chosen == "" {
			return nil, fmt.Errorf("no permission option available")
		}
		return map[string]any{"optionId": chosen}, nil

	default:
		return nil, nil
	}
}

func (m *multiplexer) bindSession(sessionID string, events *broadcast.Broadcaster[event.Event]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &sessionBinding{events: events}
}

func (m *multiplexer) unbindSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// call issues a bounded-timeout outbound JSON-RPC request and decodes its
// result into result.
func (m *multiplexer) call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := m.conn.Call(ctx, method, params, result); err != nil {
		if ctx.Err() != nil {
			return &gwerrors.Timeout{Backend: string(m.variant), Op: method}
		}
		return &gwerrors.Protocol{Backend: string(m.variant), Err: err}
	}
	return nil
}
