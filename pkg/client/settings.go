package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings stores connection details persisted as YAML next to the binary.
type Settings struct {
	ServerURL   string `yaml:"server_url"`
	ControlAddr string `yaml:"control_addr"`
	Email       string `yaml:"email,omitempty"`
	Token       string `yaml:"token,omitempty"`
	Insecure    bool   `yaml:"insecure_tls"`

	path string
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		ServerURL:   "http://localhost:9602",
		ControlAddr: "localhost:9600",
		Insecure:    true,
		path:        DefaultSettingsPath(),
	}
}

// DefaultSettingsPath is settings.yaml in the executable's directory.
func DefaultSettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "settings.yaml")
}

// LoadSettings reads settings from path. A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	s.path = path
	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Path returns the file Save writes to.
func (s *Settings) Path() string {
	return s.path
}

// Save writes settings to YAML. The file holds a bearer token, so it is
// private to the owner.
func (s *Settings) Save() error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
