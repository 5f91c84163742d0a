package types

import "time"

// InstallationType is the inferred provenance of an installed tool.
type InstallationType string

const (
	InstallationSystem         InstallationType = "system"
	InstallationPackageManager InstallationType = "package-manager"
	InstallationUserLocal      InstallationType = "user-local"
	InstallationUnknown        InstallationType = "unknown"
)

// InstallationInfo is the result of a single detection.
type InstallationInfo struct {
	Tool             Tool             `json:"tool"`
	Installed        bool             `json:"installed"`
	Version          string           `json:"version,omitempty"`
	ExecutablePath   string           `json:"executable_path,omitempty"`
	InstallationType InstallationType `json:"installation_type"`
	InstallLocation  string           `json:"install_location,omitempty"`
}

// CompatibilityReport compares an installation against the descriptor thresholds.
type CompatibilityReport struct {
	Tool               Tool     `json:"tool"`
	Compatible         bool     `json:"compatible"`
	CurrentVersion     string   `json:"current_version,omitempty"`
	MinimumVersion     string   `json:"minimum_version"`
	RecommendedVersion string   `json:"recommended_version"`
	NeedsUpgrade       bool     `json:"needs_upgrade"`
	Issues             []string `json:"issues"`
	Recommendations    []string `json:"recommendations"`
}

// EnvironmentCheck describes how a tool is wired into the current environment.
type EnvironmentCheck struct {
	Tool        Tool              `json:"tool"`
	InPath      bool              `json:"in_path"`
	PathEntries []string          `json:"path_entries,omitempty"`
	Conflicts   []string          `json:"conflicts,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// ToolStatus combines the three independent detection stages. A failed stage
// leaves its field nil and records the reason in Errors under the stage name.
type ToolStatus struct {
	Tool          Tool                 `json:"tool"`
	Info          *InstallationInfo    `json:"info,omitempty"`
	Compatibility *CompatibilityReport `json:"compatibility,omitempty"`
	Environment   *EnvironmentCheck    `json:"environment,omitempty"`
	Errors        map[string]string    `json:"errors,omitempty"`
	CheckedAt     time.Time            `json:"checked_at"`
}

// Status summarises the tool for display.
func (s ToolStatus) Status() CheckStatus {
	switch {
	case s.Info == nil:
		return CheckStatusError
	case !s.Info.Installed:
		return CheckStatusMissing
	case s.Compatibility == nil:
		return CheckStatusUnknown
	case !s.Compatibility.Compatible:
		return CheckStatusOutdated
	case s.Compatibility.NeedsUpgrade:
		return CheckStatusOutdated
	}
	return CheckStatusOK
}

// InstallationRequirements is computed once per install attempt.
type InstallationRequirements struct {
	DiskSpaceRequired  int64    `json:"disk_space_required"`
	DiskSpaceAvailable int64    `json:"disk_space_available"`
	HasSufficientSpace bool     `json:"has_sufficient_space"`
	RequiresElevation  bool     `json:"requires_elevation"`
	Prerequisites      []string `json:"prerequisites,omitempty"`
	PotentialConflicts []string `json:"potential_conflicts,omitempty"`
}

// InstallationPackage is the artifact resolved for one install. DownloadURL is
// empty for package-manager and registry driven installs.
type InstallationPackage struct {
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	DownloadURL  string      `json:"download_url,omitempty"`
	Filename     string      `json:"filename,omitempty"`
	ExpectedSize int64       `json:"expected_size,omitempty"`
	// Checksum is "type:hex" when upstream publishes one for this file.
	Checksum     string      `json:"checksum,omitempty"`
	Platform     string      `json:"platform"`
	Arch         string      `json:"arch"`
	Spec         PackageSpec `json:"-"`
}

// IsEmpty reports whether there is nothing to download.
func (p *InstallationPackage) IsEmpty() bool {
	return p == nil || p.DownloadURL == ""
}

// Stage is a step of the installation state machine.
type Stage string

const (
	StageConfiguring Stage = "configuring"
	StageDownloading Stage = "downloading"
	StageInstalling  Stage = "installing"
	StageVerifying   Stage = "verifying"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// Order returns the position of the stage in the pipeline; failed sorts last.
func (s Stage) Order() int {
	switch s {
	case StageConfiguring:
		return 0
	case StageDownloading:
		return 1
	case StageInstalling:
		return 2
	case StageVerifying:
		return 3
	case StageCompleted:
		return 4
	}
	return 5
}

// Terminal reports whether no further progress follows.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// InstallationProgress is an ephemeral progress event.
type InstallationProgress struct {
	Tool    Tool      `json:"tool"`
	Stage   Stage     `json:"stage"`
	Percent int       `json:"percent"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// InstallResult is returned by every install, successful or not.
type InstallResult struct {
	Tool             Tool                      `json:"tool"`
	Success          bool                      `json:"success"`
	Skipped          bool                      `json:"skipped,omitempty"`
	InstallPath      string                    `json:"install_path,omitempty"`
	ExecutablePath   string                    `json:"executable_path,omitempty"`
	InstalledVersion string                    `json:"installed_version,omitempty"`
	Logs             []string                  `json:"logs"`
	Error            string                    `json:"error,omitempty"`
	ErrorCode        ErrorCode                 `json:"error_code,omitempty"`
	Requirements     *InstallationRequirements `json:"requirements,omitempty"`
	Duration         time.Duration             `json:"duration"`
}

// Failed builds an unsuccessful result from err.
func Failed(tool Tool, err error, logs []string) *InstallResult {
	return &InstallResult{
		Tool:      tool,
		Success:   false,
		Logs:      logs,
		Error:     err.Error(),
		ErrorCode: CodeOf(err),
	}
}
