package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// GetGatewayStateHome returns a directory path for storing gateway state
// (logs, rotated trace files). If needed, it also creates the necessary
// directories according to the XDG spec. Can be overridden by setting the
// GATEWAY_STATE_HOME environment variable.
func GetGatewayStateHome() (string, error) {
	stateDir := os.Getenv("GATEWAY_STATE_HOME")
	if stateDir != "" {
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create gateway state directory from GATEWAY_STATE_HOME: %w", err)
		}
		return stateDir, nil
	}

	stateDir = filepath.Join(xdg.StateHome, "chatgateway")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create gateway state directory: %w", err)
	}
	return stateDir, nil
}
