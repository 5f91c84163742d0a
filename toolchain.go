// Package toolchain detects, installs and supervises the developer tools an
// application depends on: git, node and the claude CLI.
//
// Example:
//
//	svc, err := toolchain.New("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Shutdown(context.Background())
//
//	env, _ := svc.DetectEnvironment(ctx, toolchain.DetectRequest{})
//	if !env.Ready() {
//	    result, _ := svc.BatchInstall(ctx, nil)
//	    fmt.Println(result.Failed())
//	}
package toolchain

import (
	"github.com/flanksource/toolchain/pkg/config"
	"github.com/flanksource/toolchain/pkg/installer"
	"github.com/flanksource/toolchain/pkg/provision"
	"github.com/flanksource/toolchain/pkg/supervisor"
	"github.com/flanksource/toolchain/pkg/types"
)

// Re-export commonly used types for the public API
type (
	Service        = provision.Service
	Option         = provision.Option
	DetectRequest  = provision.DetectRequest
	Environment    = provision.Environment
	InstallStatus  = provision.InstallStatus
	BatchResult    = provision.BatchResult
	ProcessRequest = provision.ProcessRequest
	CloneResult    = provision.CloneResult

	Tool                 = types.Tool
	ToolStatus           = types.ToolStatus
	InstallResult        = types.InstallResult
	InstallationProgress = types.InstallationProgress
	ProvisionError       = types.ProvisionError
	ErrorCode            = types.ErrorCode

	ProcessEvent = supervisor.Event
	ProcessInfo  = supervisor.ProcessInfo

	InstallOption = installer.InstallOption
	Config        = config.Config
)

const (
	Git    = types.ToolGit
	Node   = types.ToolNode
	Claude = types.ToolAssistant
)

// Re-export options
var (
	WithSupervisor       = provision.WithSupervisor
	WithInstallerOptions = provision.WithInstallerOptions
	WithSubscriberBuffer = provision.WithSubscriberBuffer

	WithForce         = installer.WithForce
	WithTmpDir        = installer.WithTmpDir
	WithKeepDownloads = installer.WithKeepDownloads
	WithElevation     = installer.WithElevation
	WithUserLocal     = installer.WithUserLocal
	WithTimeout       = installer.WithTimeout

	CodeOf = types.CodeOf
	IsCode = types.IsCode
)

// New loads configPath (or the default toolchain.yaml locations when empty)
// and returns a ready Service. Call Shutdown when done.
func New(configPath string, opts ...Option) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return provision.New(cfg, opts...), nil
}
