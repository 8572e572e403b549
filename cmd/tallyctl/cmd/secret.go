package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/idgen"
)

const secretBytes = 64

var genSecretCmd = &cobra.Command{
	Use:   "gen-secret",
	Short: "Write a random signing key to a file",
	Long: `Generate 64 random bytes, base64 encode them and write the result to
--path. The server reads this file when SECRET_KEY is unset.

Examples:
  tallyctl gen-secret
  tallyctl gen-secret --path /etc/tally/secret`,
	Args: cobra.NoArgs,
	RunE: runGenSecret,
}

func init() {
	rootCmd.AddCommand(genSecretCmd)

	genSecretCmd.Flags().StringP("path", "p", config.DefaultSecretFile, "file to write the key to")
}

func runGenSecret(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(idgen.Secret(secretBytes)), 0o600); err != nil {
		return fmt.Errorf("write secret: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Secret key written to: %s\n", abs)
	return nil
}
