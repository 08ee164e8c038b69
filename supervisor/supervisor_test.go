package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgateway/gatewayconfig"
)

func testConfig() gatewayconfig.Config {
	cfg, _ := gatewayconfig.Load("")
	cfg.StreamHost = "127.0.0.1"
	cfg.HealthCheckInterval = 10 * time.Millisecond
	cfg.HealthCheckAttempts = 2
	return cfg
}

func TestEnsureBackendFailsWhenBinaryMissing(t *testing.T) {
	s := New(testConfig())
	backend := gatewayconfig.BackendConfig{BinaryName: "definitely-not-a-real-binary-xyz"}

	_, err := s.EnsureBackend(context.Background(), "stream", backend, "")
	require.Error(t, err)
}

func TestEnsureBackendTimesOutWhenHealthNeverResponds(t *testing.T) {
	s := New(testConfig())
	backend := gatewayconfig.BackendConfig{BinaryName: "sh", Args: []string{"-c", "exit 0"}}

	_, err := s.EnsureBackend(context.Background(), "stream", backend, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to become healthy")
}

func TestEnsureBackendRespectsContextCancellation(t *testing.T) {
	s := New(testConfig())
	backend := gatewayconfig.BackendConfig{BinaryName: "sh", Args: []string{"-c", "exit 0"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.EnsureBackend(ctx, "stream", backend, "")
	require.Error(t, err)
}

func TestDescribeBackendFailureDetectsMissingBinary(t *testing.T) {
	msg := DescribeBackendFailure("stream-agent", "exec: \"stream-agent\": executable file not found in $PATH", 4200)
	assert.Contains(t, msg, "could not find")
	assert.Contains(t, msg, "stream-agent")
}

func TestDescribeBackendFailureGenericError(t *testing.T) {
	msg := DescribeBackendFailure("stream-agent", "connection reset by peer", 4200)
	assert.Contains(t, msg, "failed to start")
	assert.NotContains(t, msg, "could not find")
}

func TestIsBinaryNotFoundMatchesKnownMarkers(t *testing.T) {
	assert.True(t, isBinaryNotFound("spawn failed: fork/exec: no such file or directory"))
	assert.True(t, isBinaryNotFound("executable file not found in $PATH"))
	assert.False(t, isBinaryNotFound("connection refused"))
}
