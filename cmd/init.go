package cmd

import (
	"fmt"
	"os"

	"github.com/flanksource/toolchain/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the effective configuration to toolchain.yaml",
	Long: `Write the merged configuration (built-in defaults plus any loaded
toolchain.yaml and flags) so it can be edited.

Examples:
  toolchain init
  toolchain init ~/.config/toolchain/toolchain.yaml --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: initRun,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}

func initRun(cmd *cobra.Command, args []string) error {
	path := config.ConfigFile
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(GetConfig(), path); err != nil {
		return err
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}
