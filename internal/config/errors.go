package config

import "fmt"

// ConfigError is any problem that stops the worker from starting: a missing
// or unreadable file, bad YAML, a failed integrity check or an invalid value.
type ConfigError struct {
	Field string // dotted YAML path, empty when not tied to one field
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func fieldErr(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}
