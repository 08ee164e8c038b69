// Package gatewayconfig loads the gateway's static, operator-edited YAML
// configuration: backend binary locations, HTTP ports, health-check timing,
// and the SSE pending-trace marker set. Built on koanf + yaml + file
// provider, tolerant of a missing file.
package gatewayconfig

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// BackendConfig configures how one backend variant's binary is located and
// invoked.
type BackendConfig struct {
	BinaryName  string   `koanf:"binary_name"`
	EnvOverride string   `koanf:"env_override"` // env var naming an explicit binary path
	Args        []string `koanf:"args"`
}

// Config is the gateway's full static configuration.
type Config struct {
	AssistantName string `koanf:"assistant_name"`

	PipePrimary   BackendConfig `koanf:"pipe_primary"`
	PipeSecondary BackendConfig `koanf:"pipe_secondary"`
	Stream        BackendConfig `koanf:"stream"`
	Local         BackendConfig `koanf:"local"`

	// StreamHost is the HTTP+SSE backend's listen host. StreamPort is not
	// read: the supervisor picks a free port for each spawned backend.
	StreamHost string `koanf:"stream_host"`
	StreamPort int    `koanf:"stream_port"`

	// HealthCheckInterval and HealthCheckAttempts bound how long the
	// supervisor polls a freshly spawned backend's health endpoint before
	// giving up.
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
	HealthCheckAttempts  int          `koanf:"health_check_attempts"`

	// PendingTraceMarkers are the SSE adapter's heuristic prefixes for
	// identifying a pending-trace chunk, configurable since the right
	// marker set depends on the backend's own prompt/output style.
	PendingTraceMarkers []string `koanf:"pending_trace_markers"`
}

func defaults() Config {
	return Config{
		AssistantName: "Assistant",
		PipePrimary: BackendConfig{
			BinaryName:  "pipe-agent-primary",
			EnvOverride: "GATEWAY_PIPE_PRIMARY_BIN",
		},
		PipeSecondary: BackendConfig{
			BinaryName:  "pipe-agent-secondary",
			EnvOverride: "GATEWAY_PIPE_SECONDARY_BIN",
		},
		Stream: BackendConfig{
			BinaryName:  "stream-agent",
			EnvOverride: "GATEWAY_STREAM_BIN",
			Args:        []string{"serve"},
		},
		Local: BackendConfig{
			BinaryName:  "local-agent",
			EnvOverride: "GATEWAY_LOCAL_BIN",
		},
		StreamHost:           "127.0.0.1",
		StreamPort:           0,
		HealthCheckInterval:  500 * time.Millisecond,
		HealthCheckAttempts:  60,
		PendingTraceMarkers:  []string{"→", "🛠️"},
	}
}

// Load reads the YAML config at path, merged over defaults. A missing file
// is not an error: the gateway runs on defaults alone until an operator
// supplies one.
func Load(path string) (Config, error) {
	cfg := defaults()

	k := koanf.New(".")
	if _, err := os.Stat(path); err != nil {
		return cfg, nil
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return cfg, err
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
