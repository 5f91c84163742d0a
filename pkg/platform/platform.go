package platform

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// Platform represents a target OS/Architecture combination
type Platform struct {
	OS   string `json:"os" yaml:"os"`
	Arch string `json:"arch" yaml:"arch"`
}

var (
	globalOSOverride   string
	globalArchOverride string
	globalMutex        sync.RWMutex
)

// String returns "os/arch", the key format used by tool package maps
func (p Platform) String() string {
	return fmt.Sprintf("%s/%s", p.OS, p.Arch)
}

// SetGlobalOverrides sets OS and architecture overrides from CLI flags
func SetGlobalOverrides(osOverride, archOverride string) {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalOSOverride = osOverride
	globalArchOverride = archOverride
}

// Current returns the current platform, respecting global overrides
func Current() Platform {
	globalMutex.RLock()
	defer globalMutex.RUnlock()

	os := globalOSOverride
	arch := globalArchOverride
	if os == "" {
		os = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	return Platform{OS: os, Arch: arch}.Normalize()
}

// Parse parses "os/arch" or "os-arch"
func Parse(s string) (Platform, error) {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Platform{}, fmt.Errorf("invalid platform format: %s (expected os/arch)", s)
	}
	return Platform{OS: parts[0], Arch: parts[1]}.Normalize(), nil
}

// Normalize converts OS and arch aliases to GOOS/GOARCH names
func (p Platform) Normalize() Platform {
	return Platform{
		OS:   normalizeOS(p.OS),
		Arch: normalizeArch(p.Arch),
	}
}

func normalizeOS(os string) string {
	switch strings.ToLower(os) {
	case "macos", "osx", "mac":
		return "darwin"
	case "win", "win32", "win64":
		return "windows"
	default:
		return strings.ToLower(os)
	}
}

func normalizeArch(arch string) string {
	switch strings.ToLower(arch) {
	case "x86_64", "x64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	case "i386", "i686", "x86", "386":
		return "386"
	case "armv7", "armv7l", "arm":
		return "arm"
	default:
		return strings.ToLower(arch)
	}
}

func (p Platform) IsWindows() bool { return p.OS == "windows" }
func (p Platform) IsDarwin() bool  { return p.OS == "darwin" }
func (p Platform) IsLinux() bool   { return p.OS == "linux" }

// Supported reports whether installers exist for this platform
func (p Platform) Supported() bool {
	switch p.OS {
	case "linux", "darwin", "windows":
	default:
		return false
	}
	switch p.Arch {
	case "amd64", "arm64":
		return true
	case "386", "arm":
		return p.OS != "darwin"
	}
	return false
}

// NodeArch returns the architecture name used in nodejs.org artifact names
func (p Platform) NodeArch() string {
	switch p.Arch {
	case "amd64":
		return "x64"
	case "386":
		return "x86"
	case "arm":
		return "armv7l"
	}
	return p.Arch
}

// NodeOS returns the OS name used in nodejs.org artifact names
func (p Platform) NodeOS() string {
	if p.IsWindows() {
		return "win"
	}
	return p.OS
}

// BinaryExtension returns the binary extension for the platform
func (p Platform) BinaryExtension() string {
	if p.IsWindows() {
		return ".exe"
	}
	return ""
}

// AddExtension adds the appropriate binary extension to a filename
func (p Platform) AddExtension(filename string) string {
	ext := p.BinaryExtension()
	if ext == "" || strings.HasSuffix(filename, ext) {
		return filename
	}
	return filename + ext
}

// TemplateData returns the variables available to URL templates and when expressions
func (p Platform) TemplateData() map[string]any {
	return map[string]any{
		"os":       p.OS,
		"arch":     p.Arch,
		"nodeOS":   p.NodeOS(),
		"nodeArch": p.NodeArch(),
		"ext":      p.BinaryExtension(),
	}
}
