package cmd

import (
	"context"
	"os"

	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"
)

var cloneToken string

var cloneCmd = &cobra.Command{
	Use:   "clone <url> <dest>",
	Short: "Shallow clone a git repository",
	Long: `Shallow clone a repository into dest using the detected git. A non-empty
dest is reused as is.

The token, either "secret" or "user:secret", defaults to $GIT_TOKEN and is
never printed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := cloneToken
		if token == "" {
			token = os.Getenv("GIT_TOKEN")
		}

		svc := newService()
		defer shutdown(svc)

		result, err := svc.CloneRepository(context.Background(), args[0], args[1], token)
		if err != nil {
			return err
		}
		if result.Skipped {
			logger.Warnf("Using existing repository at %s", result.Path)
			return nil
		}
		cmd.Printf("Cloned into %s\n", result.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cloneCmd)
	cloneCmd.Flags().StringVar(&cloneToken, "token", "", "Access token for private repositories")
}
