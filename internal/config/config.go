package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds client settings. File values come from courier.yaml in the
// config dir; environment variables override the file.
type Config struct {
	ServerURL string `yaml:"server_url"`
	ConfigDir string `yaml:"-"`
	Debug     bool   `yaml:"debug"`
}

const defaultServerURL = "http://localhost:8080"

// DefaultConfigDir is ~/.courier unless COURIER_CONFIG_DIR is set.
func DefaultConfigDir() string {
	if dir := os.Getenv("COURIER_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".courier"
	}
	return filepath.Join(home, ".courier")
}

// Load reads courier.yaml from dir, applies env overrides, and fills
// defaults. A missing file is not an error.
func Load(dir string) (*Config, error) {
	cfg := &Config{ConfigDir: dir}

	data, err := os.ReadFile(filepath.Join(dir, "courier.yaml"))
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COURIER_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("COURIER_DEBUG"); v == "1" || v == "true" {
		c.Debug = true
	}
}
