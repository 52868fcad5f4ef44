// Package util holds small helpers shared by the Replyline entrypoint.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads an environment variable as a feature toggle.
// true/1/yes/on enable, false/0/no/off disable (case-insensitive);
// anything else falls back to def with a warning.
func ParseBoolEnv(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: unrecognized value, using default", "key", key, "value", raw, "default", def)
	return def
}
