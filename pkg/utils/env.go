package utils

import "os"

// ParseWithFallback reads an environment variable, treating unset and empty
// the same way.
func ParseWithFallback(envName string, fallback string) string {
	if value, ok := os.LookupEnv(envName); ok && value != "" {
		return value
	}

	return fallback
}
