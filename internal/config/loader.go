package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// LoadConfig reads, substitutes and parses the configuration file at path,
// then applies defaults.
func LoadConfig(path string) (*GatewayConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	data, err := os.ReadFile(absPath) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return parse(data)
}

// LoadConfigFromReader parses configuration from r.
func LoadConfigFromReader(r io.Reader) (*GatewayConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*GatewayConfig, error) {
	content := substituteEnvVars(data)

	var cfg GatewayConfig
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default}; "$$" escapes a dollar sign.
func substituteEnvVars(data []byte) []byte {
	const escaped = "\x00DOLLAR\x00"
	content := bytes.ReplaceAll(data, []byte("$$"), []byte(escaped))

	content = envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		sub := envVarPattern.FindSubmatch(match)
		if value, ok := os.LookupEnv(string(sub[1])); ok {
			return []byte(value)
		}
		return sub[2]
	})

	return bytes.ReplaceAll(content, []byte(escaped), []byte("$"))
}
