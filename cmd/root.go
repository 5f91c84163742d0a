package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/flanksource/clicky"
	"github.com/flanksource/commons/logger"
	"github.com/flanksource/toolchain/pkg/config"
	"github.com/flanksource/toolchain/pkg/installer"
	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/provision"
	"github.com/spf13/cobra"
)

var (
	tmpDir         string
	force          bool
	keepDownloads  bool
	userLocal      bool
	noElevation    bool
	installTimeout time.Duration
	osOverride     string
	archOverride   string
	configFile     string
	toolchainCfg   *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "toolchain",
	Short: "Detect, install and supervise developer tools",
	Long: `toolchain detects git, node and the claude CLI, installs or upgrades
them through the platform's native installers and runs supervised processes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Apply clicky flags after command line parsing
		clicky.Flags.UseFlags()

		platform.SetGlobalOverrides(osOverride, archOverride)

		var err error
		toolchainCfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		if tmpDir != "" {
			toolchainCfg.Settings.TmpDir = tmpDir
		}
		if userLocal {
			toolchainCfg.Settings.Installer.UserLocal = true
		}
		if noElevation {
			allow := false
			toolchainCfg.Settings.Installer.AllowElevation = &allow
		}

		logger.V(3).Infof("Using %s (tmp %s)", platform.Current(), toolchainCfg.TmpDir())
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// GetConfig returns the config loaded for the current command
func GetConfig() *config.Config {
	return toolchainCfg
}

func newService() *provision.Service {
	return provision.New(toolchainCfg, provision.WithInstallerOptions(
		installer.WithDefaults(
			installer.WithForce(force),
			installer.WithKeepDownloads(keepDownloads),
			installer.WithTimeout(installTimeout),
		),
	))
}

// shutdown kills anything svc still supervises, bounded by the configured deadline
func shutdown(svc *provision.Service) {
	deadline := toolchainCfg.Settings.Supervisor.ShutdownDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
}

// onInterrupt runs fn for every SIGINT/SIGTERM until the returned stop is called
func onInterrupt(fn func()) (stop func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-signals:
				fn()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(signals)
		close(done)
	}
}

func init() {
	clicky.BindAllFlags(rootCmd.PersistentFlags(), "tasks", "!format")

	rootCmd.PersistentFlags().StringVar(&tmpDir, "tmp-dir", "", "Directory for downloads and scratch space (default: OS temp dir)")
	rootCmd.PersistentFlags().BoolVar(&force, "force", false, "Reinstall even if a compatible version is present")
	rootCmd.PersistentFlags().BoolVar(&keepDownloads, "keep-downloads", false, "Keep downloaded installers after the install")
	rootCmd.PersistentFlags().BoolVar(&userLocal, "user-local", false, "Install under the user's home where supported")
	rootCmd.PersistentFlags().BoolVar(&noElevation, "no-elevation", false, "Fail instead of using sudo or an elevated installer")
	rootCmd.PersistentFlags().DurationVar(&installTimeout, "install-timeout", 0, "Timeout for each installer command (0 for none)")
	rootCmd.PersistentFlags().StringVar(&osOverride, "os", runtime.GOOS, "Target OS (linux, darwin, windows)")
	rootCmd.PersistentFlags().StringVar(&archOverride, "arch", runtime.GOARCH, "Target architecture (amd64, arm64)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to toolchain.yaml config file")
}
