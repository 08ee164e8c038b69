// Package sseagent implements the agent.Agent adapter for the HTTP+SSE
// backend variant: a long-lived server process (owned by supervisor.Supervisor)
// exposing a session/message/event HTTP API, with live updates streamed over
// Server-Sent Events.
package sseagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	r3sse "github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"

	"chatgateway/agent"
	"chatgateway/broadcast"
	"chatgateway/event"
	"chatgateway/gwerrors"
	"chatgateway/logger"
)

// ModelPersister is called whenever SetModel succeeds, so the caller can
// persist the new provider/model pair into per-channel config. Optional:
// a nil persister simply skips persistence.
type ModelPersister func(ctx context.Context, channelID uint64, provider, modelID string) error

// Adapter owns one HTTP+SSE backend session. Many Adapters (one per channel)
// share a single backend process obtained through supervisor.Supervisor.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	channelID  uint64
	markers    []string
	persist    ModelPersister

	sessionMu sync.RWMutex
	sessionID string

	events *broadcast.Broadcaster[event.Event]

	pendingTraceMu sync.Mutex
	pendingTrace   strings.Builder

	modelMu       sync.Mutex
	modelProvider string
	modelID       string

	turnFailed atomic.Bool
	hasContent atomic.Bool

	cancelStream context.CancelFunc
}

// New creates (or loads) a session against the HTTP+SSE backend reachable at
// baseURL, and starts its SSE listener goroutine.
func New(ctx context.Context, baseURL string, channelID uint64, existingSessionID string, markers []string, persist ModelPersister) (*Adapter, error) {
	if len(markers) == 0 {
		markers = []string{"→", "🛠️"}
	}

	client := &http.Client{Timeout: 30 * time.Second}
	log := logger.Get()

	sessionID := existingSessionID
	if sessionID == "" {
		created, err := createSession(client, baseURL, channelID)
		if err != nil {
			return nil, err
		}
		sessionID = created
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	a := &Adapter{
		httpClient:   client,
		baseURL:      baseURL,
		sessionID:    sessionID,
		channelID:    channelID,
		markers:      markers,
		persist:      persist,
		events:       broadcast.New[event.Event](64),
		cancelStream: cancel,
	}

	go a.runSSELoop(streamCtx, log)

	return a, nil
}

// createSession asks the backend to start a new session for channelID and
// returns its assigned id.
func createSession(client *http.Client, baseURL string, channelID uint64) (string, error) {
	body, _ := json.Marshal(map[string]any{"title": fmt.Sprintf("chatgateway channel #%d", channelID)})
	resp, err := client.Post(baseURL+"/session", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", &gwerrors.Transport{Backend: string(agent.TypeStream), Err: err}
	}
	defer resp.Body.Close()

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", &gwerrors.Protocol{Backend: string(agent.TypeStream), Err: err}
	}
	sessionID := asString(info["id"])
	if sessionID == "" {
		return "", &gwerrors.Protocol{Backend: string(agent.TypeStream), Err: fmt.Errorf("backend did not return a session id")}
	}
	return sessionID, nil
}

// getSessionID returns the adapter's current backend session id.
func (a *Adapter) getSessionID() string {
	a.sessionMu.RLock()
	defer a.sessionMu.RUnlock()
	return a.sessionID
}

// setSessionID replaces the adapter's current backend session id, e.g. after
// Clear recreates the session.
func (a *Adapter) setSessionID(id string) {
	a.sessionMu.Lock()
	a.sessionID = id
	a.sessionMu.Unlock()
}

// runSSELoop subscribes to the backend's /event stream, reconnecting after a
// brief delay on any stream error.
func (a *Adapter) runSSELoop(ctx context.Context, log zerolog.Logger) {
	client := r3sse.NewClient(a.baseURL + "/event")

	for {
		if ctx.Err() != nil {
			return
		}

		err := client.SubscribeRawWithContext(ctx, func(msg *r3sse.Event) {
			if len(msg.Data) == 0 {
				return
			}
			var val map[string]any
			if jsonErr := json.Unmarshal(msg.Data, &val); jsonErr == nil {
				a.handleBackendEvent(val)
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error().Err(err).Str("session_id", a.getSessionID()).Msg("sseagent: SSE stream error")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// handleBackendEvent normalizes one decoded SSE payload into canonical
// events.
func (a *Adapter) handleBackendEvent(val map[string]any) {
	typ := asString(val["type"])
	properties := asMap(val["properties"])
	data := asMap(val["data"])

	eventSID := firstNonEmpty(
		pathString(properties, "sessionID"),
		pathString(properties, "info", "id"),
		pathString(data, "sessionID"),
		pathString(data, "info", "sessionID"),
		asString(val["sessionID"]),
	)

	if eventSID != "" {
		if eventSID != a.getSessionID() {
			return
		}
	} else if strings.HasPrefix(typ, "session.") || strings.HasPrefix(typ, "message.") {
		if typ == "server.heartbeat" {
			return
		}
	}

	switch typ {
	case "message.part.updated", "message.part.delta", "session.message.part.delta":
		a.handlePartDelta(properties, data, val)

	case "session.error", "error":
		a.handleSessionError(val, properties)

	case "session.turn.close", "session.message.completed":
		a.handleTurnClose()

	case "session.log", "tool.start":
		msg := pathString(properties, "message")
		if strings.Contains(msg, "Executing tool") || typ == "tool.start" {
			id := firstNonEmpty(pathString(properties, "toolCallId"), pathString(data, "toolCallId"), "tool-id")
			a.pendingTraceMu.Lock()
			name := "tool"
			if a.pendingTrace.Len() > 0 {
				name = a.pendingTrace.String()
				a.pendingTrace.Reset()
			}
			a.pendingTraceMu.Unlock()
			a.events.Send(event.ToolStart{ID: id, Name: name})
		}
	}
}

func (a *Adapter) containsMarker(delta string) bool {
	for _, m := range a.markers {
		if strings.Contains(delta, m) {
			return true
		}
	}
	return false
}

func (a *Adapter) handlePartDelta(properties, data, val map[string]any) {
	delta := firstNonEmpty(pathString(properties, "delta"), pathString(data, "delta"), asString(val["delta"]))

	partInfo := asMap(properties["part"])
	partType := firstNonEmpty(asString(partInfo["type"]), asString(properties["type"]), asString(data["type"]))
	if partType == "" {
		partType = "text"
	}

	isThinking := partType == "reasoning" || partType == "thinking" || partType == "thought"
	partID := firstNonEmpty(asString(partInfo["id"]), asString(properties["partId"]))

	if isThinking {
		fullThink := asString(partInfo["text"])
		switch {
		case fullThink != "":
			a.events.Send(event.ThinkingDelta{ID: partID, Text: fullThink, IsDelta: false})
		case delta != "":
			a.events.Send(event.ThinkingDelta{ID: partID, Text: delta, IsDelta: true})
		}
		return
	}

	switch partType {
	case "tool", "tool-call", "tool_call", "agent":
		a.handleToolPart(properties, partInfo)
		return
	case "tool-result", "tool_result":
		id := firstNonEmpty(asString(partInfo["id"]), asString(properties["toolCallId"]), "tool-id")
		output := firstNonEmpty(asString(partInfo["text"]), asString(partInfo["content"]))
		if output != "" {
			a.events.Send(event.ToolUpdate{ID: id, Output: output})
		}
		return
	}

	if delta == "" {
		return
	}

	a.pendingTraceMu.Lock()
	if a.containsMarker(delta) || a.pendingTrace.Len() > 0 {
		a.pendingTrace.WriteString(delta)
		if strings.Contains(delta, "\n") && !strings.HasPrefix(a.pendingTrace.String(), "→") {
			content := a.pendingTrace.String()
			a.pendingTrace.Reset()
			a.pendingTraceMu.Unlock()
			a.events.Send(event.MessageDelta{Text: content, IsDelta: true})
			return
		}
		a.pendingTraceMu.Unlock()
		return
	}
	a.pendingTraceMu.Unlock()

	if strings.TrimSpace(delta) != "" {
		a.hasContent.Store(true)
	}

	fullText := asString(partInfo["text"])
	if fullText != "" {
		a.events.Send(event.MessageDelta{ID: partID, Text: fullText, IsDelta: false})
	} else {
		a.events.Send(event.MessageDelta{ID: partID, Text: delta, IsDelta: true})
	}
}

func (a *Adapter) handleToolPart(properties, partInfo map[string]any) {
	// Any tool part discards buffered pending-trace text, so it cannot
	// bleed into the tool block.
	a.pendingTraceMu.Lock()
	a.pendingTrace.Reset()
	a.pendingTraceMu.Unlock()

	id := firstNonEmpty(asString(partInfo["id"]), asString(partInfo["callID"]), asString(properties["toolCallId"]), "tool-id")
	status := pathString(partInfo, "state", "status")
	name := firstNonEmpty(asString(partInfo["tool"]), asString(partInfo["toolName"]), asString(partInfo["agent"]), "tool")

	if status == "running" || status == "pending" {
		cmd := pathString(partInfo, "state", "input", "command")
		label := "🛠️ `" + name + "`"
		if cmd != "" {
			label = fmt.Sprintf("🛠️ `%s`: `%s`", name, cmd)
		}
		a.events.Send(event.ToolStart{ID: id, Name: label})
	}

	if status == "completed" {
		output := firstNonEmpty(pathString(partInfo, "state", "metadata", "output"), pathString(partInfo, "state", "output"))
		if output != "" {
			a.events.Send(event.ToolUpdate{ID: id, Output: output})
		}
	}
}

func (a *Adapter) handleSessionError(val, properties map[string]any) {
	log := logger.Get()

	msg, ok := findErrorMessage(val)
	if !ok {
		encoded, _ := json.Marshal(val)
		msg = "backend raw error: " + string(encoded)
	}

	if msg == "Unauthorized" {
		if p := pathString(properties, "error", "data", "providerID"); p != "" {
			msg = fmt.Sprintf("Unauthorized: provider %q requires an API key. Configure it on the backend server.", p)
		}
	}

	hasOut := a.hasContent.Load()
	if hasOut && (strings.Contains(msg, "title") || msg == "Unauthorized" || strings.Contains(msg, "Unauthorized")) {
		log.Info().Str("backend", string(agent.TypeStream)).Msg("sseagent: background error ignored: " + msg)
		return
	}

	log.Error().Str("backend", string(agent.TypeStream)).Msg("sseagent: fatal session error: " + msg)
	a.turnFailed.Store(true)
	a.events.Send(event.TurnEnd{Success: false, Error: msg})
}

func (a *Adapter) handleTurnClose() {
	if a.turnFailed.Load() {
		return
	}

	go func() {
		log := logger.Get()
		url := fmt.Sprintf("%s/session/%s/message", a.baseURL, a.getSessionID())
		resp, err := a.httpClient.Get(url)
		if err == nil {
			defer resp.Body.Close()
			var msgs []map[string]any
			if decodeErr := json.NewDecoder(resp.Body).Decode(&msgs); decodeErr == nil {
				if items, ok := lastAssistantContentItems(msgs); ok {
					a.events.Send(event.ContentSync{Items: items})
				}
			} else {
				log.Warn().Err(decodeErr).Msg("sseagent: failed decoding turn-close message history")
			}
		} else {
			log.Warn().Err(err).Msg("sseagent: failed fetching turn-close message history")
		}

		a.pendingTraceMu.Lock()
		if a.pendingTrace.Len() > 0 {
			content := a.pendingTrace.String()
			a.pendingTrace.Reset()
			a.pendingTraceMu.Unlock()
			a.events.Send(event.MessageDelta{Text: content, IsDelta: true})
		} else {
			a.pendingTraceMu.Unlock()
		}

		a.events.Send(event.TurnEnd{Success: true})
	}()
}

// lastAssistantContentItems finds the most recent assistant message in msgs
// and maps its parts into canonical ContentItems, used for turn-close
// reconciliation against the composed message.
func lastAssistantContentItems(msgs []map[string]any) ([]event.ContentItem, bool) {
	var last map[string]any
	for _, m := range msgs {
		if asString(m["role"]) == "assistant" {
			last = m
		}
	}
	if last == nil {
		return nil, false
	}

	parts := asArray(last["parts"])
	items := make([]event.ContentItem, 0, len(parts))

	for _, raw := range parts {
		p := asMap(raw)
		t := asString(p["type"])
		partID := asString(p["id"])
		content := firstNonEmpty(asString(p["text"]), asString(p["content"]), asString(p["result"]))

		switch t {
		case "text":
			if content != "" {
				items = append(items, event.ContentItem{Kind: event.ContentText, Content: content, ID: partID})
			}
		case "thinking", "reasoning", "thought":
			if content != "" {
				items = append(items, event.ContentItem{Kind: event.ContentThinking, Content: content, ID: partID})
			}
		case "tool-call", "agent", "tool_call", "call", "tool":
			id := firstNonEmpty(asString(p["id"]), asString(p["callID"]), asString(p["toolCallId"]), "tool-id")
			name := firstNonEmpty(asString(p["tool"]), asString(p["toolName"]), asString(p["agent"]), asString(p["method"]), "tool")
			output := firstNonEmpty(pathString(p, "state", "metadata", "output"), pathString(p, "state", "output"), asString(p["result"]))
			cmd := firstNonEmpty(pathString(p, "state", "input", "command"), pathString(p, "args", "command"))

			label := "🛠️ `" + name + "`"
			if cmd != "" {
				label = fmt.Sprintf("🛠️ `%s`: `%s`", name, cmd)
			}
			items = append(items, event.ContentItem{Kind: event.ContentToolCall, Name: label, ID: id})
			if output != "" {
				items = append(items, event.ContentItem{Kind: event.ContentToolOutput, Content: output, ID: id})
			}
		case "tool-result", "tool_result", "result":
			id := firstNonEmpty(asString(p["id"]), asString(p["toolCallId"]), "tool-id")
			items = append(items, event.ContentItem{Kind: event.ContentToolOutput, Content: content, ID: id})
		default:
			if content != "" {
				items = append(items, event.ContentItem{Kind: event.ContentText, Content: content, ID: partID})
			}
		}
	}

	return items, true
}

func (a *Adapter) Prompt(ctx context.Context, message string) error {
	a.turnFailed.Store(false)
	a.hasContent.Store(false)

	a.modelMu.Lock()
	provider, modelID := a.modelProvider, a.modelID
	a.modelMu.Unlock()

	body, _ := json.Marshal(constructMessageBody(message, provider, modelID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/session/%s/message", a.baseURL, a.getSessionID()), bytes.NewReader(body))
	if err != nil {
		return &gwerrors.Protocol{Backend: string(agent.TypeStream), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &gwerrors.Transport{Backend: string(agent.TypeStream), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var errJSON any
		msg := fmt.Sprintf("backend API communication failed (status %d)", resp.StatusCode)
		if json.Unmarshal(raw, &errJSON) == nil {
			if found, ok := findErrorMessage(errJSON); ok {
				msg = found
			}
		}
		return &gwerrors.BackendSemantic{Backend: string(agent.TypeStream), Message: msg}
	}

	return nil
}

func (a *Adapter) SetSessionName(ctx context.Context, name string) error { return nil }

func (a *Adapter) GetState(ctx context.Context) (agent.State, error) {
	a.modelMu.Lock()
	defer a.modelMu.Unlock()
	model := ""
	if a.modelProvider != "" && a.modelID != "" {
		model = a.modelProvider + "/" + a.modelID
	}
	return agent.State{Model: model}, nil
}

func (a *Adapter) Compact(ctx context.Context) error { return nil }

func (a *Adapter) Abort(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/session/%s/abort", a.baseURL, a.getSessionID()), nil)
	if err != nil {
		return &gwerrors.Protocol{Backend: string(agent.TypeStream), Err: err}
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &gwerrors.Transport{Backend: string(agent.TypeStream), Err: err}
	}
	resp.Body.Close()
	return nil
}

// Clear deletes the backend's current session and provisions a fresh one in
// its place; the backend has no in-place "forget history" operation.
func (a *Adapter) Clear(ctx context.Context) error {
	oldSessionID := a.getSessionID()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/session/%s", a.baseURL, oldSessionID), nil)
	if err == nil {
		if resp, delErr := a.httpClient.Do(req); delErr == nil {
			resp.Body.Close()
		} else {
			logger.Get().Warn().Err(delErr).Str("session_id", oldSessionID).Msg("sseagent: failed deleting session on clear")
		}
	}

	newSessionID, err := createSession(a.httpClient, a.baseURL, a.channelID)
	if err != nil {
		return err
	}
	a.setSessionID(newSessionID)
	return nil
}

func (a *Adapter) SetModel(ctx context.Context, provider, modelID string) error {
	a.modelMu.Lock()
	a.modelProvider = provider
	a.modelID = modelID
	a.modelMu.Unlock()

	if a.persist != nil {
		if err := a.persist(ctx, a.channelID, provider, modelID); err != nil {
			logger.Get().Warn().Err(err).Msg("sseagent: failed persisting model selection")
		}
	}
	return nil
}

func (a *Adapter) SetThinkingLevel(ctx context.Context, level string) error { return nil }

// GetAvailableModels fetches the backend's connected-provider catalog and
// returns the union of their models, free-tier entries sorted first.
func (a *Adapter) GetAvailableModels(ctx context.Context) ([]agent.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/provider", nil)
	if err != nil {
		return nil, &gwerrors.Protocol{Backend: string(agent.TypeStream), Err: err}
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &gwerrors.Transport{Backend: string(agent.TypeStream), Err: err}
	}
	defer resp.Body.Close()

	var val map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&val); err != nil {
		return nil, &gwerrors.Protocol{Backend: string(agent.TypeStream), Err: err}
	}

	connected := map[string]bool{}
	for _, v := range asArray(val["connected"]) {
		if s, ok := v.(string); ok {
			connected[s] = true
		}
	}

	var models []agent.ModelInfo
	for _, raw := range asArray(val["all"]) {
		p := asMap(raw)
		providerID := asString(p["id"])
		if !connected[providerID] {
			continue
		}
		for id := range asMap(p["models"]) {
			models = append(models, agent.ModelInfo{
				Provider: providerID,
				ID:       id,
				Label:    providerID + "/" + id,
			})
		}
	}

	isFree := func(m agent.ModelInfo) bool { return strings.Contains(m.ID, "free") }
	stableSortFreeFirst(models, isFree)

	return models, nil
}

// stableSortFreeFirst performs a stable insertion sort placing free models
// ahead of non-free ones, preserving relative order within each group (the
// original's Vec::sort_by comparator is itself stable).
func stableSortFreeFirst(models []agent.ModelInfo, isFree func(agent.ModelInfo) bool) {
	for i := 1; i < len(models); i++ {
		j := i
		for j > 0 && isFree(models[j]) && !isFree(models[j-1]) {
			models[j], models[j-1] = models[j-1], models[j]
			j--
		}
	}
}

func (a *Adapter) LoadSkill(ctx context.Context, name string) error { return nil }

func (a *Adapter) Subscribe() (<-chan event.Event, func()) {
	return a.events.Subscribe()
}

func (a *Adapter) Type() agent.Type { return agent.TypeStream }

// SessionID exposes the backend-assigned session id for chatconfig
// persistence.
func (a *Adapter) SessionID() string { return a.getSessionID() }

func (a *Adapter) Close() {
	a.cancelStream()
	a.events.Close()
}

var _ agent.Agent = (*Adapter)(nil)
