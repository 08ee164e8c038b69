package common

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetGatewayDataHomeHonorsEnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom-data")
	t.Setenv("GATEWAY_DATA_HOME", dir)

	got, err := GetGatewayDataHome()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, got)
}

func TestGetGatewayStateHomeHonorsEnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom-state")
	t.Setenv("GATEWAY_STATE_HOME", dir)

	got, err := GetGatewayStateHome()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, got)
}

func TestGetGatewayDataHomeFallsBackToXDGWhenUnset(t *testing.T) {
	t.Setenv("GATEWAY_DATA_HOME", "")

	got, err := GetGatewayDataHome()
	require.NoError(t, err)
	assert.Contains(t, got, "chatgateway")
	assert.DirExists(t, got)
}
