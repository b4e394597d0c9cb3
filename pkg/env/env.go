// Package env holds the few raw environment lookups that happen before
// config loading, such as the log format read at logger construction.
package env

import "os"

// Get returns the environment variable value, or fallback when unset
// or empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
