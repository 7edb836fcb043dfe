package mcp

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	Transport  string            `yaml:"transport"` // "stdio" or "http"
	Command    string            `yaml:"command,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	URL        string            `yaml:"url,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	ToolPrefix string            `yaml:"tool_prefix,omitempty"`
	TimeoutSec int               `yaml:"timeout_sec,omitempty"`
	Enabled    *bool             `yaml:"enabled,omitempty"`
}

// IsEnabled defaults to true when unset.
func (c *ServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate checks transport-specific required fields.
func (c *ServerConfig) Validate(name string) error {
	switch c.Transport {
	case "stdio":
		if c.Command == "" {
			return fmt.Errorf("mcp server %s: stdio transport requires command", name)
		}
	case "http":
		if c.URL == "" {
			return fmt.Errorf("mcp server %s: http transport requires url", name)
		}
	case "":
		return fmt.Errorf("mcp server %s: transport is required", name)
	default:
		return fmt.Errorf("mcp server %s: unknown transport %q", name, c.Transport)
	}
	return nil
}

// configFile is the on-disk YAML document shape.
type configFile struct {
	Servers map[string]*ServerConfig `yaml:"servers"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references from the process environment.
// Unset variables expand to the empty string.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// LoadConfig reads and validates the MCP servers file. A missing file is an
// empty configuration.
func LoadConfig(path string) (map[string]*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]*ServerConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mcp config %s: %w", path, err)
	}

	var doc configFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}

	for name, cfg := range doc.Servers {
		if cfg == nil {
			delete(doc.Servers, name)
			continue
		}
		cfg.Command = expandEnv(cfg.Command)
		cfg.URL = expandEnv(cfg.URL)
		for i, a := range cfg.Args {
			cfg.Args[i] = expandEnv(a)
		}
		for k, v := range cfg.Env {
			cfg.Env[k] = expandEnv(v)
		}
		for k, v := range cfg.Headers {
			cfg.Headers[k] = expandEnv(v)
		}
		if err := cfg.Validate(name); err != nil {
			return nil, err
		}
	}
	if doc.Servers == nil {
		doc.Servers = map[string]*ServerConfig{}
	}
	return doc.Servers, nil
}
