package audit

import (
	"fmt"
	"strings"
)

// Output formats.
const (
	formatJSON = "json"
	formatText = "text"
)

// Config represents audit logging configuration.
type Config struct {
	// Enabled enables audit logging.
	Enabled bool

	// Output is "stdout", "stderr" or a file path.
	Output string

	// Format is "json" or "text".
	Format string

	// Events selects the audited event types. Nil audits all of them.
	Events *EventsConfig

	// SkipPaths are never audited. A trailing '*' matches a prefix.
	SkipPaths []string
}

// EventsConfig configures which events to audit.
type EventsConfig struct {
	Authentication bool
	Authorization  bool
	Security       bool
}

// Validate validates the audit configuration.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Format != "" && c.Format != formatJSON && c.Format != formatText {
		return fmt.Errorf("invalid audit format: %s (must be 'json' or 'text')", c.Format)
	}
	return nil
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Output:  "stdout",
		Format:  formatJSON,
		Events: &EventsConfig{
			Authentication: true,
			Authorization:  true,
			Security:       true,
		},
	}
}

// GetEffectiveFormat returns the effective output format.
func (c *Config) GetEffectiveFormat() string {
	if c.Format != "" {
		return c.Format
	}
	return formatJSON
}

// GetEffectiveOutput returns the effective output destination.
func (c *Config) GetEffectiveOutput() string {
	if c.Output != "" {
		return c.Output
	}
	return "stdout"
}

// ShouldAudit reports whether events of type t are audited.
func (c *Config) ShouldAudit(t EventType) bool {
	if c == nil || !c.Enabled {
		return false
	}
	if c.Events == nil {
		return true
	}
	switch t {
	case EventTypeAuthentication:
		return c.Events.Authentication
	case EventTypeAuthorization:
		return c.Events.Authorization
	case EventTypeSecurity:
		return c.Events.Security
	default:
		return true
	}
}

// ShouldSkipPath returns true if the path should be skipped from auditing.
func (c *Config) ShouldSkipPath(path string) bool {
	for _, skipPath := range c.SkipPaths {
		if matchPath(skipPath, path) {
			return true
		}
	}
	return false
}

func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return false
}
