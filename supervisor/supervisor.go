// Package supervisor manages the lifecycle of the long-lived backend
// process used by the HTTP+SSE backend: spawn on first use, reuse while
// alive, respawn if it has died, and block the first caller until the
// backend's health endpoint answers. Grounded in the original
// agent/manager.rs BackendManager::ensure_backend.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"chatgateway/binpath"
	"chatgateway/gatewayconfig"
)

type process struct {
	mu   sync.Mutex
	cmd  *exec.Cmd
	port int
}

// Supervisor owns at most one backend process per key (typically the
// backend variant name).
type Supervisor struct {
	cfg gatewayconfig.Config

	mu        sync.Mutex
	processes map[string]*process
}

// New creates a Supervisor using cfg for binary resolution and
// health-check timing.
func New(cfg gatewayconfig.Config) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		processes: make(map[string]*process),
	}
}

func freePort() int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 40000
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// EnsureBackend returns the port of a running backend process for key,
// spawning one if none exists or the existing one has exited. Uses
// double-checked locking so concurrent callers for the same key don't spawn
// duplicate processes, and releases the process-table lock before polling
// the health endpoint so other channels aren't blocked waiting on this
// channel's backend to come up.
func (s *Supervisor) EnsureBackend(ctx context.Context, key string, backend gatewayconfig.BackendConfig, sharedSecret string) (int, error) {
	s.mu.Lock()
	if p, ok := s.processes[key]; ok {
		p.mu.Lock()
		alive := p.cmd.ProcessState == nil
		port := p.port
		p.mu.Unlock()
		if alive {
			s.mu.Unlock()
			return port, nil
		}
		delete(s.processes, key)
	}
	s.mu.Unlock()

	s.mu.Lock()
	// Double-checked: another goroutine may have spawned it while we
	// recomputed.
	if p, ok := s.processes[key]; ok {
		port := p.port
		s.mu.Unlock()
		return port, nil
	}

	port := freePort()
	resolved := binpath.ResolveWithEnv(backend.EnvOverride, backend.BinaryName)

	args := append([]string{}, backend.Args...)
	args = append(args, "--port", fmt.Sprintf("%d", port), "--hostname", s.cfg.StreamHost)

	cmd := exec.CommandContext(context.Background(), resolved, args...)
	cmd.Env = append(os.Environ(),
		"NODE_OPTIONS=--max-old-space-size=4096",
		"PATH="+binpath.AugmentedPath(os.Getenv("PATH")),
	)
	if sharedSecret != "" {
		cmd.Env = append(cmd.Env, "BACKEND_SERVER_PASSWORD="+sharedSecret)
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("spawn failed: %w", err)
	}

	p := &process{cmd: cmd, port: port}
	s.processes[key] = p
	s.mu.Unlock()

	go func() {
		state, _ := cmd.Process.Wait()
		if state == nil {
			state = &os.ProcessState{}
		}
		p.mu.Lock()
		p.cmd.ProcessState = state
		p.mu.Unlock()
	}()

	healthURL := fmt.Sprintf("http://%s:%d/provider", s.cfg.StreamHost, port)
	client := &http.Client{Timeout: 5 * time.Second}

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.cfg.HealthCheckInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err == nil {
			if sharedSecret != "" {
				req.Header.Set("Authorization", "Bearer "+sharedSecret)
			}
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					return port, nil
				}
			}
		}

		if attempt+1 >= s.cfg.HealthCheckAttempts {
			return 0, fmt.Errorf("backend %q failed to become healthy on port %d", key, port)
		}
	}
}

// DescribeBackendFailure produces an install-hint diagnostic for a backend
// that failed to start, mirroring commands/agent.rs's
// build_backend_error_message / is_binary_not_found.
func DescribeBackendFailure(backendName, errText string, port int) string {
	if isBinaryNotFound(errText) {
		return fmt.Sprintf(
			"could not find the %q backend binary; install it and ensure it's on PATH or set its env override (tried port %d): %s",
			backendName, port, errText,
		)
	}
	return fmt.Sprintf("%s backend failed to start on port %d: %s", backendName, port, errText)
}

func isBinaryNotFound(errText string) bool {
	for _, marker := range []string{"no such file or directory", "executable file not found", "spawn failed"} {
		if strings.Contains(errText, marker) {
			return true
		}
	}
	return false
}
