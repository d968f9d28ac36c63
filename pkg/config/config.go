package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// EditWindow returns the configured edit window with its default applied.
func (c *Config) EditWindow() time.Duration {
	if d := c.Chat.EditWindow.Duration(); d > 0 {
		return d
	}
	return 15 * time.Minute
}

// PageSize returns the configured default page size with its default applied.
func (c *Config) PageSize() int {
	if c.Chat.PageSize > 0 {
		return c.Chat.PageSize
	}
	return 20
}

// PresenceRefresh returns the lastActive refresh interval with its default.
func (c *Config) PresenceRefresh() time.Duration {
	if d := c.Presence.RefreshInterval.Duration(); d > 0 {
		return d
	}
	return 30 * time.Second
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `WISDOMCHAT_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("WISDOMCHAT_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
