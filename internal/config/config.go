package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath            string `json:"db_path" toml:"db_path" yaml:"db_path"`
	WebEnabled        bool   `json:"web_enabled" toml:"web_enabled" yaml:"web_enabled"`
	WebPort           int    `json:"web_port" toml:"web_port" yaml:"web_port"`
	UploadsDir        string `json:"uploads_dir" toml:"uploads_dir" yaml:"uploads_dir"`
	AuthToken         string `json:"auth_token" toml:"auth_token" yaml:"auth_token"`
	CascadePageDelete bool   `json:"cascade_page_delete" toml:"cascade_page_delete" yaml:"cascade_page_delete"`
	LogLevel          string `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogPath           string `json:"log_path" toml:"log_path" yaml:"log_path"`
}

func Default() Config {
	return Config{WebPort: 8080, LogLevel: "info"}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "planner", "config.json"), nil
}

// DefaultDBPath places the database next to the default config file.
func DefaultDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "planner", "planner.db"), nil
}

// WithDefaults fills the path fields that depend on DBPath.
func (c Config) WithDefaults() Config {
	if c.WebPort == 0 {
		c.WebPort = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DBPath != "" {
		dir := filepath.Dir(c.DBPath)
		if c.UploadsDir == "" {
			c.UploadsDir = filepath.Join(dir, "uploads")
		}
		if c.LogPath == "" {
			c.LogPath = filepath.Join(dir, "planner.log")
		}
	}
	return c
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

type format int

const (
	formatJSON format = iota
	formatTOML
	formatYAML
)

func formatFor(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return formatJSON, nil
	case ".toml":
		return formatTOML, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func Load(path string) (Config, error) {
	config := Default()

	kind, err := formatFor(path)
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return Config{}, err
	}

	switch kind {
	case formatTOML:
		err = toml.Unmarshal(data, &config)
	case formatYAML:
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return config, nil
}

func Save(path string, cfg Config) error {
	kind, err := formatFor(path)
	if err != nil {
		return err
	}
	if err := EnsureDir(path); err != nil {
		return err
	}

	var data []byte
	switch kind {
	case formatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
		data = buf.Bytes()
	case formatYAML:
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}
