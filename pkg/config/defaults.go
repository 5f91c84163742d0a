package config

import (
	_ "embed"
	"fmt"

	"github.com/flanksource/toolchain/pkg/types"
)

//go:embed defaults.yaml
var defaultConfigYAML []byte

// LoadDefaultConfig loads the embedded default configuration
func LoadDefaultConfig() (*Config, error) {
	config, err := Parse(defaultConfigYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded default config: %w", err)
	}
	return config, nil
}

// Merge overlays user settings and tool descriptors on top of defaults.
// Non-zero user fields win; package entries are merged per platform key.
func Merge(defaults, user *Config) *Config {
	merged := *defaults
	merged.Tools = make(map[types.Tool]types.ToolDescriptor, len(defaults.Tools))
	for name, desc := range defaults.Tools {
		merged.Tools[name] = desc
	}
	if user == nil {
		return &merged
	}

	mergeSettings(&merged.Settings, user.Settings)

	for name, userDesc := range user.Tools {
		base, ok := merged.Tools[name]
		if !ok {
			merged.Tools[name] = userDesc
			continue
		}
		merged.Tools[name] = mergeDescriptor(base, userDesc)
	}
	return &merged
}

func mergeSettings(dst *Settings, src Settings) {
	if src.TmpDir != "" {
		dst.TmpDir = src.TmpDir
	}
	if src.Download.Timeout > 0 {
		dst.Download.Timeout = src.Download.Timeout
	}
	if src.Download.MaxRedirects > 0 {
		dst.Download.MaxRedirects = src.Download.MaxRedirects
	}
	if src.Cache.EnvironmentTTL > 0 {
		dst.Cache.EnvironmentTTL = src.Cache.EnvironmentTTL
	}
	if src.Cache.StatusTTL > 0 {
		dst.Cache.StatusTTL = src.Cache.StatusTTL
	}
	if src.Supervisor.KillGrace > 0 {
		dst.Supervisor.KillGrace = src.Supervisor.KillGrace
	}
	if src.Supervisor.ShutdownDeadline > 0 {
		dst.Supervisor.ShutdownDeadline = src.Supervisor.ShutdownDeadline
	}
	if src.Supervisor.OutputChunks > 0 {
		dst.Supervisor.OutputChunks = src.Supervisor.OutputChunks
	}
	if src.Installer.LogLimit > 0 {
		dst.Installer.LogLimit = src.Installer.LogLimit
	}
	if src.Installer.DiskBuffer > 0 {
		dst.Installer.DiskBuffer = src.Installer.DiskBuffer
	}
	if src.Installer.AllowElevation != nil {
		dst.Installer.AllowElevation = src.Installer.AllowElevation
	}
	if src.Installer.UserLocal {
		dst.Installer.UserLocal = true
	}
}

func mergeDescriptor(base, user types.ToolDescriptor) types.ToolDescriptor {
	if user.Binary != "" {
		base.Binary = user.Binary
	}
	if len(user.VersionArgs) > 0 {
		base.VersionArgs = user.VersionArgs
	}
	if user.VersionRegex != "" {
		base.VersionRegex = user.VersionRegex
	}
	if user.MinVersion != "" {
		base.MinVersion = user.MinVersion
	}
	if user.RecommendedVersion != "" {
		base.RecommendedVersion = user.RecommendedVersion
	}
	if len(user.Requires) > 0 {
		base.Requires = user.Requires
	}
	if len(user.PlatformPackageMap) > 0 {
		packages := make(map[string]types.PackageSpec, len(base.PlatformPackageMap)+len(user.PlatformPackageMap))
		for k, v := range base.PlatformPackageMap {
			packages[k] = v
		}
		for k, v := range user.PlatformPackageMap {
			packages[k] = v
		}
		base.PlatformPackageMap = packages
	}
	return base
}
