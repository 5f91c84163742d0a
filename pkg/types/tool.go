package types

import (
	"fmt"
	"strings"
)

// Tool identifies one of the externally managed pieces of software.
type Tool string

const (
	ToolGit       Tool = "git"
	ToolNode      Tool = "node"
	ToolAssistant Tool = "claude"
)

// InstallOrder is the fixed dependency order used by batch installs.
var InstallOrder = []Tool{ToolGit, ToolNode, ToolAssistant}

// AllTools returns every supported tool in dependency order.
func AllTools() []Tool {
	return append([]Tool(nil), InstallOrder...)
}

func (t Tool) String() string {
	return string(t)
}

// Rank returns the position of the tool in InstallOrder, or len(InstallOrder) if unknown.
func (t Tool) Rank() int {
	for i, tool := range InstallOrder {
		if tool == t {
			return i
		}
	}
	return len(InstallOrder)
}

// Valid reports whether t is a supported tool.
func (t Tool) Valid() bool {
	return t.Rank() < len(InstallOrder)
}

// PackageSpec describes where a tool comes from on one platform.
type PackageSpec struct {
	// Method is one of "installer" (exe), "msi", "pkg", "dmg", "package-manager", "archive" or "npm".
	Method string `json:"method" yaml:"method"`
	// URLTemplate is a gomplate template rendered with version/os/arch.
	URLTemplate string `json:"url_template,omitempty" yaml:"url_template,omitempty"`
	// ChecksumURL is a template for a "<hash>  <file>" listing covering the download.
	ChecksumURL string `json:"checksum_url,omitempty" yaml:"checksum_url,omitempty"`
	// Filename overrides the filename derived from the URL.
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
	// Repo is an owner/name GitHub repository used to discover release assets.
	Repo string `json:"repo,omitempty" yaml:"repo,omitempty"`
	// AssetPattern is a glob matched against release asset names.
	AssetPattern string `json:"asset_pattern,omitempty" yaml:"asset_pattern,omitempty"`
	// VersionsURL points at a page or JSON index listing available versions.
	VersionsURL string `json:"versions_url,omitempty" yaml:"versions_url,omitempty"`
	// Packages are the native package names for package-manager installs.
	Packages []string `json:"packages,omitempty" yaml:"packages,omitempty"`
	// NpmPackage is the registry package name for npm installs.
	NpmPackage string `json:"npm_package,omitempty" yaml:"npm_package,omitempty"`
	// Args are passed to silent installers.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
	// When is an optional CEL expression over os, arch and version.
	When string `json:"when,omitempty" yaml:"when,omitempty"`
	// EstimatedSize is used for the disk preflight when the download size is unknown.
	EstimatedSize int64 `json:"estimated_size,omitempty" yaml:"estimated_size,omitempty"`
}

// ToolDescriptor is the immutable definition of a supported tool.
type ToolDescriptor struct {
	Name               Tool                   `json:"name" yaml:"name"`
	Binary             string                 `json:"binary" yaml:"binary"`
	VersionArgs        []string               `json:"version_args,omitempty" yaml:"version_args,omitempty"`
	VersionRegex       string                 `json:"version_regex,omitempty" yaml:"version_regex,omitempty"`
	MinVersion         string                 `json:"min_version" yaml:"min_version"`
	RecommendedVersion string                 `json:"recommended_version" yaml:"recommended_version"`
	Requires           []Tool                 `json:"requires,omitempty" yaml:"requires,omitempty"`
	PlatformPackageMap map[string]PackageSpec `json:"packages,omitempty" yaml:"packages,omitempty"`
}

// PackageFor returns the package spec for os/arch, trying "os/arch", "os/*", "os" and "*".
func (d ToolDescriptor) PackageFor(os, arch string) (PackageSpec, string, bool) {
	for _, key := range []string{os + "/" + arch, os + "/*", os, "*"} {
		if spec, ok := d.PlatformPackageMap[key]; ok {
			return spec, key, true
		}
	}
	return PackageSpec{}, "", false
}

// ParseToolSpec splits "tool@version" into its parts.
func ParseToolSpec(s string) (Tool, string) {
	name, version, _ := strings.Cut(strings.TrimSpace(s), "@")
	return Tool(strings.ToLower(name)), version
}

func (d ToolDescriptor) String() string {
	return fmt.Sprintf("%s (min %s, recommended %s)", d.Name, d.MinVersion, d.RecommendedVersion)
}
