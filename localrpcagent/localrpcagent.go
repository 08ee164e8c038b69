// Package localrpcagent implements the agent.Agent adapter for the local
// child-process backend variant: a single long-lived subprocess per channel,
// speaking line-delimited JSON over stdin/stdout rather than JSON-RPC 2.0.
// Grounded in the original agent/pi.rs PiAgent.
package localrpcagent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatgateway/agent"
	"chatgateway/broadcast"
	"chatgateway/event"
	"chatgateway/gatewayconfig"
	"chatgateway/gwerrors"
	"chatgateway/logger"
)

const getModelsTimeout = 5 * time.Second

// Adapter owns one local backend child process, dedicated to a single
// channel for its whole lifetime.
type Adapter struct {
	channelID   uint64
	sessionID   string
	sessionFile string

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdinMu sync.Mutex

	events *broadcast.Broadcaster[event.Event]

	mu           sync.RWMutex
	messageCount uint64
	currentModel string
}

// New spawns the local backend's child process for channelID and performs
// its initial session-name handshake.
func New(ctx context.Context, backend gatewayconfig.BackendConfig, channelID uint64, sessionDir string) (*Adapter, error) {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, &gwerrors.Transport{Backend: string(agent.TypeLocal), Err: err}
	}

	binary := backend.BinaryName
	if envBin := os.Getenv(backend.EnvOverride); envBin != "" {
		binary = envBin
	}

	sessionFile := filepath.Join(sessionDir, fmt.Sprintf("channel-%d.jsonl", channelID))

	args := append([]string{}, backend.Args...)
	args = append(args, "--mode", "rpc", "--session", sessionFile, "--session-dir", sessionDir)

	cmd := exec.CommandContext(context.Background(), binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &gwerrors.Transport{Backend: string(agent.TypeLocal), Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &gwerrors.Transport{Backend: string(agent.TypeLocal), Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &gwerrors.Transport{Backend: string(agent.TypeLocal), Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &gwerrors.Transport{Backend: string(agent.TypeLocal), Err: err}
	}

	a := &Adapter{
		channelID:   channelID,
		sessionID:   fmt.Sprintf("local-%d", channelID),
		sessionFile: sessionFile,
		cmd:         cmd,
		stdin:       stdin,
		events:      broadcast.New[event.Event](64),
	}

	log := logger.Get()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Info().Uint64("channel_id", channelID).Msg("[local-stderr] " + scanner.Text())
		}
	}()

	go a.readLoop(stdout)

	if _, err := a.rawCall(ctx, map[string]any{
		"type": "set_session_name",
		"name": fmt.Sprintf("chatgateway-%d", channelID),
	}); err != nil {
		log.Warn().Err(err).Uint64("channel_id", channelID).Msg("localrpcagent: initial set_session_name failed")
	}

	return a, nil
}

// readLoop parses every newline-delimited JSON object the backend writes to
// stdout and dispatches it as a canonical event. A closed stdout is a
// transport failure, not a backend-reported error, so it surfaces as a
// terminal event.ConnectionError.
func (a *Adapter) readLoop(stdout io.Reader) {
	log := logger.Get()
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		var val map[string]any
		if err := json.Unmarshal([]byte(line), &val); err != nil {
			log.Info().Uint64("channel_id", a.channelID).Msg("[local-stdout] " + line)
			continue
		}
		a.parseEvent(val)
	}

	a.events.Send(event.ConnectionError{Message: "local backend process exited unexpectedly"})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asArray(v any) []any {
	arr, _ := v.([]any)
	return arr
}

// parseEvent normalizes one raw backend event object into zero or more
// canonical events, grounded byte-for-byte in pi.rs's PiAgent::parse_event.
func (a *Adapter) parseEvent(val map[string]any) {
	typ := asString(val["type"])

	switch typ {
	case "message_update", "text_delta", "thinking_delta", "text_end", "message_end":
		a.parseMessageUpdate(val)

	case "tool_execution_start":
		name := asString(val["toolName"])
		if name == "" {
			name = "tool"
		}
		a.events.Send(event.ToolStart{ID: name, Name: name})

	case "tool_execution_update":
		partial := asMap(val["partialResult"])
		content := asArray(partial["content"])
		var output string
		for _, item := range content {
			m := asMap(item)
			output += asString(m["text"])
		}
		if output != "" {
			a.events.Send(event.ToolUpdate{ID: "tool", Output: output})
		}

	case "tool_execution_end":
		a.events.Send(event.ToolEnd{ID: "tool", Success: true})

	case "turn_end":
		// Deliberately ignored: the backend emits this between tool calls
		// and the final summary message, not at actual agent completion.

	case "agent_end":
		if errMsg, ok := val["errorMessage"].(string); ok && errMsg != "" {
			a.events.Send(event.TurnEnd{Success: false, Error: errMsg})
		} else {
			a.messageCount++
			a.events.Send(event.TurnEnd{Success: true})
		}

	case "response":
		id := asString(val["id"])
		if id == "" {
			return
		}
		data, _ := json.Marshal(val["data"])
		a.events.Send(event.CommandResponse{CorrelationID: id, Payload: data})

	case "error":
		msg := asString(val["message"])
		if msg == "" {
			msg = asString(val["error"])
		}
		if msg == "" {
			msg = "unknown top-level error"
		}
		a.events.Send(event.Error{Message: msg})
	}
}

func (a *Adapter) parseMessageUpdate(val map[string]any) {
	deltaObj := val
	if v, ok := val["assistantMessageEvent"].(map[string]any); ok {
		deltaObj = v
	} else if v, ok := val["message"].(map[string]any); ok {
		deltaObj = v
	}

	var thinking, text string
	isDelta := true

	var contentArr []any
	if partial := asMap(deltaObj["partial"]); partial != nil {
		contentArr = asArray(partial["content"])
	}
	if contentArr == nil {
		if c, ok := deltaObj["content"].([]any); ok {
			contentArr = c
		}
	}

	if contentArr != nil {
		isDelta = false
		for _, item := range contentArr {
			m := asMap(item)
			switch asString(m["type"]) {
			case "thinking":
				thinking += asString(m["thinking"])
			case "text":
				text += asString(m["text"])
			}
		}
	} else if c, ok := deltaObj["content"].(string); ok {
		text = c
		isDelta = false
	} else if d, ok := deltaObj["delta"].(string); ok {
		t := asString(deltaObj["type"])
		if t == "thinking_delta" || t == "thinking" {
			thinking = d
		} else if t == "text_delta" || t == "text" {
			text = d
		}
	}

	if thinking != "" {
		a.events.Send(event.ThinkingDelta{Text: thinking, IsDelta: isDelta})
	}
	if text != "" {
		a.events.Send(event.MessageDelta{Text: text, IsDelta: isDelta})
	}

	if asString(deltaObj["type"]) == "error" {
		errMsg := asString(deltaObj["errorMessage"])
		if errMsg == "" {
			errMsg = "unknown API error"
		}
		if asString(deltaObj["reason"]) == "aborted" {
			a.events.Send(event.TurnEnd{Success: false, Error: "aborted"})
		} else {
			a.events.Send(event.Error{Message: errMsg})
		}
	}
}

// rawCall assigns a uuid id to cmd, writes it as one newline-delimited JSON
// line, and returns the id. Callers that need the reply subscribe to the
// adapter's broadcast before calling it (see callAndWait).
func (a *Adapter) rawCall(ctx context.Context, cmd map[string]any) (string, error) {
	id := uuid.NewString()
	cmd["id"] = id

	encoded, err := json.Marshal(cmd)
	if err != nil {
		return "", &gwerrors.Protocol{Backend: string(agent.TypeLocal), Err: err}
	}

	a.stdinMu.Lock()
	defer a.stdinMu.Unlock()
	if _, err := a.stdin.Write(append(encoded, '\n')); err != nil {
		return "", &gwerrors.Transport{Backend: string(agent.TypeLocal), Err: err}
	}
	return id, nil
}

// callAndWait issues cmd and blocks for its correlated response, per the
// timeout used by get_available_models in pi.rs. It subscribes to the same
// canonical broadcast every other caller of Subscribe() observes, rather
// than a private side-channel, so CommandResponse is genuinely visible on
// the event stream per the agent contract.
func (a *Adapter) callAndWait(ctx context.Context, cmd map[string]any, timeout time.Duration) (json.RawMessage, error) {
	sub, unsubscribe := a.events.Subscribe()
	defer unsubscribe()

	id := uuid.NewString()
	cmd["id"] = id

	encoded, err := json.Marshal(cmd)
	if err != nil {
		return nil, &gwerrors.Protocol{Backend: string(agent.TypeLocal), Err: err}
	}

	a.stdinMu.Lock()
	_, writeErr := a.stdin.Write(append(encoded, '\n'))
	a.stdinMu.Unlock()
	if writeErr != nil {
		return nil, &gwerrors.Transport{Backend: string(agent.TypeLocal), Err: writeErr}
	}

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return nil, &gwerrors.Transport{Backend: string(agent.TypeLocal), Err: fmt.Errorf("event stream closed")}
			}
			switch e := ev.(type) {
			case event.CommandResponse:
				if e.CorrelationID == id {
					return e.Payload, nil
				}
			case event.Error:
				return nil, &gwerrors.BackendSemantic{Backend: string(agent.TypeLocal), Message: e.Message}
			}
		case <-deadline:
			return nil, &gwerrors.Timeout{Backend: string(agent.TypeLocal), Op: "command response"}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (a *Adapter) Prompt(ctx context.Context, message string) error {
	_, err := a.rawCall(ctx, map[string]any{
		"type":              "prompt",
		"message":           message,
		"stream":            true,
		"streamingBehavior": "steer",
	})
	return err
}

func (a *Adapter) SetSessionName(ctx context.Context, name string) error {
	_, err := a.rawCall(ctx, map[string]any{"type": "set_session_name", "name": name})
	return err
}

// GetState reports the in-memory turn count when this process has seen at
// least one turn; across a gateway restart that counter resets to zero, so
// it falls back to counting lines in the backend's own session file, the
// same approach pi.rs's get_state uses.
func (a *Adapter) GetState(ctx context.Context) (agent.State, error) {
	a.mu.RLock()
	count := a.messageCount
	model := a.currentModel
	a.mu.RUnlock()

	if count == 0 {
		if fileCount, err := sessionFileLineCount(a.sessionFile); err == nil {
			count = fileCount
		}
	}

	return agent.State{MessageCount: count, Model: model}, nil
}

// sessionFileLineCount counts the lines in the backend's jsonl session file,
// used as GetState's fallback when no in-memory turn has happened yet.
func sessionFileLineCount(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)

	var count uint64
	for scanner.Scan() {
		count++
	}
	return count, nil
}

func (a *Adapter) Compact(ctx context.Context) error {
	_, err := a.rawCall(ctx, map[string]any{"type": "compact"})
	return err
}

func (a *Adapter) Abort(ctx context.Context) error {
	_, err := a.rawCall(ctx, map[string]any{"type": "abort"})
	return err
}

func (a *Adapter) Clear(ctx context.Context) error { return nil }

func (a *Adapter) SetModel(ctx context.Context, provider, modelID string) error {
	_, err := a.rawCall(ctx, map[string]any{
		"type":     "set_model",
		"provider": provider,
		"modelId":  modelID,
	})
	if err == nil {
		a.mu.Lock()
		a.currentModel = modelID
		a.mu.Unlock()
	}
	return err
}

func (a *Adapter) SetThinkingLevel(ctx context.Context, level string) error {
	_, err := a.rawCall(ctx, map[string]any{"type": "set_thinking_level", "level": level})
	return err
}

func (a *Adapter) GetAvailableModels(ctx context.Context) ([]agent.ModelInfo, error) {
	data, err := a.callAndWait(ctx, map[string]any{"type": "get_available_models"}, getModelsTimeout)
	if err != nil {
		return nil, err
	}

	var result struct {
		Models []struct {
			Provider string `json:"provider"`
			ID       string `json:"id"`
		} `json:"models"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &gwerrors.Protocol{Backend: string(agent.TypeLocal), Err: err}
	}

	models := make([]agent.ModelInfo, 0, len(result.Models))
	for i, m := range result.Models {
		if i >= 25 {
			break
		}
		if m.Provider == "" || m.ID == "" {
			continue
		}
		models = append(models, agent.ModelInfo{
			Provider: m.Provider,
			ID:       m.ID,
			Label:    fmt.Sprintf("%s/%s", m.Provider, m.ID),
		})
	}
	return models, nil
}

func (a *Adapter) LoadSkill(ctx context.Context, name string) error {
	_, err := a.rawCall(ctx, map[string]any{"type": "load_skill", "name": name})
	return err
}

func (a *Adapter) Subscribe() (<-chan event.Event, func()) {
	return a.events.Subscribe()
}

func (a *Adapter) Type() agent.Type { return agent.TypeLocal }

// SessionID exposes the synthetic per-channel session id so the caller can
// persist it in chatconfig (the local backend has no server-assigned id of
// its own: identity is the channel-keyed session file on disk).
func (a *Adapter) SessionID() string { return a.sessionID }

func (a *Adapter) Close() {
	a.events.Close()
	if a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
}

var _ agent.Agent = (*Adapter)(nil)
