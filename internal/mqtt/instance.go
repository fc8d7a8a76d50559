package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateInstanceID reads the agent instance ID from dataDir, or
// generates a UUIDv7 and persists it when none exists. The ID keys the
// MQTT client identity so broker sessions survive restarts.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	if dataDir == "" {
		dataDir = "."
	}
	path := filepath.Join(dataDir, "instance_id")

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return id.String(), nil
}

// clientID derives the MQTT client identifier.
func clientID(configured, instanceID string) string {
	if configured != "" {
		return configured
	}
	short := strings.ReplaceAll(instanceID, "-", "")
	if len(short) > 12 {
		short = short[len(short)-12:]
	}
	return "vanaci-agent-" + short
}
