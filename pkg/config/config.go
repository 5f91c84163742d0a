package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/flanksource/toolchain/pkg/types"
	"gopkg.in/yaml.v3"
)

const ConfigFile = "toolchain.yaml"

type DownloadSettings struct {
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MaxRedirects int           `yaml:"max_redirects,omitempty"`
}

type CacheSettings struct {
	EnvironmentTTL time.Duration `yaml:"environment_ttl,omitempty"`
	StatusTTL      time.Duration `yaml:"status_ttl,omitempty"`
}

type SupervisorSettings struct {
	KillGrace        time.Duration `yaml:"kill_grace,omitempty"`
	ShutdownDeadline time.Duration `yaml:"shutdown_deadline,omitempty"`
	OutputChunks     int           `yaml:"output_chunks,omitempty"`
}

type InstallerSettings struct {
	LogLimit       int     `yaml:"log_limit,omitempty"`
	DiskBuffer     float64 `yaml:"disk_buffer,omitempty"`
	AllowElevation *bool   `yaml:"allow_elevation,omitempty"`
	UserLocal      bool    `yaml:"user_local,omitempty"`
}

type Settings struct {
	TmpDir     string             `yaml:"tmp_dir,omitempty"`
	Download   DownloadSettings   `yaml:"download,omitempty"`
	Cache      CacheSettings      `yaml:"cache,omitempty"`
	Supervisor SupervisorSettings `yaml:"supervisor,omitempty"`
	Installer  InstallerSettings  `yaml:"installer,omitempty"`
}

// Config is the merged result of the embedded defaults and an optional toolchain.yaml
type Config struct {
	Settings Settings                            `yaml:"settings"`
	Tools    map[types.Tool]types.ToolDescriptor `yaml:"tools"`
}

// Descriptor returns the descriptor for a tool
func (c *Config) Descriptor(tool types.Tool) (types.ToolDescriptor, error) {
	desc, ok := c.Tools[tool]
	if !ok {
		return types.ToolDescriptor{}, fmt.Errorf("unknown tool %q", tool)
	}
	return desc, nil
}

// ElevationAllowed reports whether installers may use sudo or an elevated installer
func (c *Config) ElevationAllowed() bool {
	return c.Settings.Installer.AllowElevation == nil || *c.Settings.Installer.AllowElevation
}

// TmpDir returns the configured temp directory, defaulting to the OS temp dir
func (c *Config) TmpDir() string {
	if c.Settings.TmpDir != "" {
		return expandHome(c.Settings.TmpDir)
	}
	return os.TempDir()
}

// Parse parses a toolchain.yaml document without applying defaults
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for name, desc := range config.Tools {
		if desc.Name == "" {
			desc.Name = name
		}
		config.Tools[name] = desc
	}
	return &config, nil
}

// Load loads the user config at path (or ./toolchain.yaml, then
// ~/.config/toolchain/toolchain.yaml) merged over the embedded defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	defaults, err := LoadDefaultConfig()
	if err != nil {
		return nil, err
	}

	path, explicit := resolvePath(path)
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return defaults, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	user, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.V(3).Infof("Loaded config from %s", path)
	return Merge(defaults, user), nil
}

// Save writes the config as YAML
func Save(config *Config, path string) error {
	if path == "" {
		path = ConfigFile
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

func resolvePath(path string) (string, bool) {
	if path != "" {
		return expandHome(path), true
	}
	if _, err := os.Stat(ConfigFile); err == nil {
		return ConfigFile, false
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(dir, "toolchain", ConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, false
		}
	}
	return "", false
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
