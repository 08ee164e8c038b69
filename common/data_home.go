package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// GetGatewayDataHome returns a directory path for storing gateway data that
// must survive process restarts: per-backend session storage directories.
// If needed, it also creates the necessary directories according to the XDG
// spec. Can be overridden by setting the GATEWAY_DATA_HOME environment
// variable.
func GetGatewayDataHome() (string, error) {
	dataDir := os.Getenv("GATEWAY_DATA_HOME")
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create gateway data directory from GATEWAY_DATA_HOME: %w", err)
		}
		return dataDir, nil
	}

	dataDir = filepath.Join(xdg.DataHome, "chatgateway")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create gateway data directory: %w", err)
	}
	return dataDir, nil
}
