package helper

import (
	"os"
	"strconv"
	"time"
)

// GetEnvAsInt reads an integer env var, falling back on the default when
// unset or unparsable.
func GetEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvAsDuration reads a duration env var ("15s", "5m", ...), falling
// back on the default when unset or unparsable.
func GetEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
