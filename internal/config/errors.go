package config

import (
	"fmt"
	"strings"
)

// ConfigError reports an unreadable profile file, an unknown profile, or
// missing and malformed keys. Keys lists every offending key.
type ConfigError struct {
	Path    string
	Profile string
	Keys    []string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s [%s]: %v", e.Path, e.Profile, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// EnvironmentError reports required environment variables that are not set.
type EnvironmentError struct {
	Missing []string
}

func (e *EnvironmentError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Missing, ", ")
}
