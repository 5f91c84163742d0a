package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/flanksource/toolchain/pkg/releases"
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the GitHub credentials used to resolve release assets",
	Long: `whoami shows which token is used for GitHub release lookups (git for
Windows installers), the authenticated user and the remaining API quota.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := releases.NewGitHubReleases().WhoAmI(context.Background())
		printAuthStatus(cmd, status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func printAuthStatus(cmd *cobra.Command, status releases.AuthStatus) {
	cmd.Println("GitHub Releases:")
	if status.TokenSource != "" {
		cmd.Printf("  Token Source: %s\n", status.TokenSource)
	} else {
		cmd.Printf("  Token Source: None (checked %v)\n", releases.TokenEnvVars)
	}

	if status.Authenticated {
		cmd.Printf("  Authenticated: ✅ Yes (%s)\n", userLabel(status))
	} else {
		cmd.Printf("  Authenticated: ❌ No\n")
	}
	if status.Error != "" {
		cmd.Printf("  Error: %s\n", status.Error)
	}

	if status.Limit > 0 {
		cmd.Printf("  Rate limit: %d/%d remaining\n", status.Remaining, status.Limit)
		if status.ResetAt != nil {
			cmd.Printf("  Resets in: %s\n", formatRateLimitDuration(time.Until(*status.ResetAt)))
		}
		if status.Low() {
			cmd.Printf("  ⚠️  Warning: Low rate limit remaining\n")
		}
	}

	if !status.Authenticated {
		cmd.Printf("\n💡 Set GITHUB_TOKEN for a higher rate limit; no scopes are required.\n")
	}
}

func userLabel(status releases.AuthStatus) string {
	if status.Name != "" {
		return fmt.Sprintf("%s, %s", status.Login, status.Name)
	}
	return status.Login
}

func formatRateLimitDuration(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
