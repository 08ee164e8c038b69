// Package gateway wires together the per-channel session manager, the
// backend process supervisor, and the three concrete adapter packages into
// the one Factory session.Manager needs — the composition root a chat
// transport (out of scope here, see SPEC_FULL.md §1) would sit in front of.
package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"chatgateway/agent"
	"chatgateway/chatconfig"
	"chatgateway/gatewayconfig"
	"chatgateway/localrpcagent"
	"chatgateway/pipeagent"
	"chatgateway/secretmanager"
	"chatgateway/session"
	"chatgateway/sseagent"
	"chatgateway/supervisor"
)

// sessionIDer is implemented by every adapter that hands back a
// backend-assigned or synthetic session id worth persisting.
type sessionIDer interface {
	SessionID() string
}

// Gateway owns every long-lived piece of the bridge: the static config, the
// per-channel dynamic config, secrets, the backend process supervisor, and
// the session manager built against them.
type Gateway struct {
	Config     gatewayconfig.Config
	Channels   *chatconfig.Config
	Secrets    secretmanager.SecretManager
	Supervisor *supervisor.Supervisor
	Sessions   *session.Manager

	localSessionDir string
}

// New builds a Gateway, wiring session.Manager's Factory to dispatch across
// the three adapter packages by backend variant.
func New(cfg gatewayconfig.Config, channels *chatconfig.Config, secrets secretmanager.SecretManager, dataHome string) *Gateway {
	gw := &Gateway{
		Config:          cfg,
		Channels:        channels,
		Secrets:         secrets,
		Supervisor:      supervisor.New(cfg),
		localSessionDir: filepath.Join(dataHome, "sessions", "local"),
	}
	gw.Sessions = session.New(gw.buildAgent)
	return gw
}

func (g *Gateway) sharedSecret() string {
	secret, err := g.Secrets.GetSecret("shared_secret")
	if err != nil {
		return ""
	}
	return secret
}

// buildAgent is the session.Factory: it creates a fresh adapter for
// channelID/backendType, resuming the channel's persisted session id when
// one exists, and persists the backend type, authorization time and
// whatever session id the adapter reports back. Model selection is
// persisted later, by persistModel.
func (g *Gateway) buildAgent(ctx context.Context, channelID uint64, backendType agent.Type) (agent.Agent, error) {
	key := strconv.FormatUint(channelID, 10)
	entry := g.Channels.Get(key)

	var (
		a   agent.Agent
		err error
	)

	switch backendType {
	case agent.TypePipePrimary:
		a, err = pipeagent.New(ctx, agent.TypePipePrimary, g.Config.PipePrimary, channelID, entry.SessionID, g.persistModel)

	case agent.TypePipeSecondary:
		a, err = pipeagent.New(ctx, agent.TypePipeSecondary, g.Config.PipeSecondary, channelID, entry.SessionID, g.persistModel)

	case agent.TypeStream:
		secret := g.sharedSecret()
		port, ensureErr := g.Supervisor.EnsureBackend(ctx, string(agent.TypeStream), g.Config.Stream, secret)
		if ensureErr != nil {
			return nil, fmt.Errorf("%s: %w", supervisor.DescribeBackendFailure(string(agent.TypeStream), ensureErr.Error(), port), ensureErr)
		}
		baseURL := fmt.Sprintf("http://%s:%d", g.Config.StreamHost, port)
		a, err = sseagent.New(ctx, baseURL, channelID, entry.SessionID, g.Config.PendingTraceMarkers, g.persistModel)

	case agent.TypeLocal:
		a, err = localrpcagent.New(ctx, g.Config.Local, channelID, g.localSessionDir)

	default:
		return nil, fmt.Errorf("unknown backend type %q", backendType)
	}

	if err != nil {
		return nil, err
	}

	entry.BackendType = backendType
	entry.AuthorizedAt = time.Now()
	if sidA, ok := a.(sessionIDer); ok {
		entry.SessionID = sidA.SessionID()
	}
	g.Channels.Set(key, entry)
	if saveErr := g.Channels.Save(); saveErr != nil {
		return a, fmt.Errorf("session created but failed to persist channel config: %w", saveErr)
	}

	return a, nil
}

// persistModel is the ModelPersister passed to the stream and both pipe
// adapters for their model selection, since those adapters have no import
// path back to chatconfig.
func (g *Gateway) persistModel(ctx context.Context, channelID uint64, provider, modelID string) error {
	key := strconv.FormatUint(channelID, 10)
	entry := g.Channels.Get(key)
	entry.ModelProvider = provider
	entry.ModelID = modelID
	g.Channels.Set(key, entry)
	return g.Channels.Save()
}
