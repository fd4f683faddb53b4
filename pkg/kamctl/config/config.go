// Package config loads kamctl's YAML configuration file.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// Config is the on-disk configuration. Every field has a working default so a
// missing file is not an error.
type Config struct {
	Endpoints Endpoints `yaml:"endpoints"`
	Auth      Auth      `yaml:"auth"`
	Defaults  Defaults  `yaml:"defaults"`
}

// Endpoints overrides the production service URLs, mainly for testing against
// staging stacks.
type Endpoints struct {
	Desktop string `yaml:"desktop,omitempty"`
	Portal  string `yaml:"portal,omitempty"`
	Usage   string `yaml:"usage,omitempty"`
}

// Auth tunes the login flows.
type Auth struct {
	RedirectURI string `yaml:"redirectUri,omitempty"`
	ListenAddr  string `yaml:"listenAddr,omitempty"`
	// RegistrationStorage is "keychain", "file" or empty for auto.
	RegistrationStorage string `yaml:"registrationStorage,omitempty"`
	InvitationCode      string `yaml:"invitationCode,omitempty"`
}

// Defaults picks behavior when flags are omitted.
type Defaults struct {
	Provider string `yaml:"provider,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Output   string `yaml:"output,omitempty"`
}

// Load reads the config at path. A missing file yields the zero config.
func Load(path string) (*Config, error) {
	var cfg Config
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Write renders cfg to path, creating parent directories as needed.
func Write(path string, cfg *Config) error {
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
