package pipeagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"chatgateway/agent"
	"chatgateway/broadcast"
	"chatgateway/event"
	"chatgateway/gatewayconfig"
	"chatgateway/gwerrors"
	"chatgateway/logger"
)

// ModelPersister is called whenever SetModel succeeds, so the caller can
// persist the new provider/model pair into per-channel config. Optional:
// a nil persister simply skips persistence.
type ModelPersister func(ctx context.Context, channelID uint64, provider, modelID string) error

// Adapter is the generic pipe-RPC agent, parameterized by which backend
// config/variant it was created against. One Adapter instance backs one
// channel session; many Adapter instances for the same variant share one
// multiplexer (and therefore one child process).
type Adapter struct {
	variant   agent.Type
	mux       *multiplexer
	sessionID string
	channelID uint64
	persist   ModelPersister

	events *broadcast.Broadcaster[event.Event]

	messageCount atomic.Uint64

	mu           sync.RWMutex
	currentModel string
	models       []agent.ModelInfo
}

// New creates (or loads) a session against the pipe-RPC backend named by
// variant/backend, bootstrapping the multiplexer's child process on first
// use. existingSessionID, when non-empty, is loaded via session/load
// instead of creating a fresh session/new. persist, when non-nil, is called
// on every successful SetModel so the caller can persist the selection.
func New(ctx context.Context, variant agent.Type, backend gatewayconfig.BackendConfig, channelID uint64, existingSessionID string, persist ModelPersister) (*Adapter, error) {
	mux, err := getMultiplexer(variant, backend)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		variant:   variant,
		mux:       mux,
		channelID: channelID,
		persist:   persist,
		events:    broadcast.New[event.Event](64),
	}

	method := "session/new"
	params := map[string]any{"channelId": fmt.Sprintf("%d", channelID)}
	if existingSessionID != "" {
		method = "session/load"
		params = map[string]any{"sessionId": existingSessionID}
	}

	var raw json.RawMessage
	if err := mux.call(ctx, method, params, &raw); err != nil {
		if existingSessionID != "" {
			// Fall back to a fresh session if the prior one can no longer
			// be loaded (e.g. the backend's own storage was cleared).
			var fresh json.RawMessage
			if err2 := mux.call(ctx, "session/new", map[string]any{"channelId": fmt.Sprintf("%d", channelID)}, &fresh); err2 != nil {
				return nil, err
			}
			raw = fresh
		} else {
			return nil, err
		}
	}

	boot, err := parseSessionBootstrap(raw)
	if err != nil {
		return nil, &gwerrors.Protocol{Backend: string(variant), Err: err}
	}

	a.sessionID = boot.SessionID
	a.currentModel = boot.CurrentModel
	for _, m := range boot.Models {
		a.models = append(a.models, agent.ModelInfo{ID: m.ModelID, Label: m.Name})
	}

	mux.bindSession(a.sessionID, a.events)
	return a, nil
}

func (a *Adapter) Prompt(ctx context.Context, message string) error {
	var result any
	err := a.mux.call(ctx, "session/prompt", map[string]any{
		"sessionId": a.sessionID,
		"prompt":    []map[string]string{{"type": "text", "text": message}},
	}, &result)

	if err != nil {
		a.events.Send(event.Error{Message: err.Error()})
		a.events.Send(event.TurnEnd{Success: false, Error: err.Error()})
		return err
	}

	a.messageCount.Add(1)
	a.events.Send(event.TurnEnd{Success: true})
	return nil
}

func (a *Adapter) SetSessionName(ctx context.Context, name string) error { return nil }

func (a *Adapter) GetState(ctx context.Context) (agent.State, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return agent.State{MessageCount: a.messageCount.Load(), Model: a.currentModel}, nil
}

func (a *Adapter) Compact(ctx context.Context) error {
	err := a.Prompt(ctx, "/compact")
	return err
}

func (a *Adapter) Abort(ctx context.Context) error { return nil }

func (a *Adapter) Clear(ctx context.Context) error { return nil }

func (a *Adapter) SetModel(ctx context.Context, provider, modelID string) error {
	var result any
	if err := a.mux.call(ctx, "session/set_model", map[string]any{
		"sessionId": a.sessionID,
		"modelId":   modelID,
	}, &result); err != nil {
		return err
	}
	a.mu.Lock()
	a.currentModel = modelID
	a.mu.Unlock()

	if a.persist != nil {
		if err := a.persist(ctx, a.channelID, provider, modelID); err != nil {
			logger.Get().Warn().Err(err).Msg("pipeagent: failed persisting model selection")
		}
	}
	return nil
}

func (a *Adapter) SetThinkingLevel(ctx context.Context, level string) error {
	return &gwerrors.Capability{Backend: string(a.variant), Op: "thinking level"}
}

func (a *Adapter) GetAvailableModels(ctx context.Context) ([]agent.ModelInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.models, nil
}

func (a *Adapter) LoadSkill(ctx context.Context, name string) error {
	return &gwerrors.Capability{Backend: string(a.variant), Op: "loading skills"}
}

func (a *Adapter) Subscribe() (<-chan event.Event, func()) {
	return a.events.Subscribe()
}

func (a *Adapter) Type() agent.Type { return a.variant }

// SessionID exposes the backend-assigned session id so the caller can
// persist it in chatconfig.
func (a *Adapter) SessionID() string { return a.sessionID }

func (a *Adapter) Close() {
	a.mux.unbindSession(a.sessionID)
	a.events.Close()
}

var _ agent.Agent = (*Adapter)(nil)
